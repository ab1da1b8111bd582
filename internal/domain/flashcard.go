// Package domain contains core domain types for the vocabulary tutor.
package domain

// Flashcard is a word/definition/example triple. Flashcards are never
// modified once created.
type Flashcard struct {
	Word            string `json:"word" jsonschema:"The word or phrase to learn"`
	Definition      string `json:"definition" jsonschema:"Meaning of the word"`
	ExampleSentence string `json:"example_sentence" jsonschema:"Example sentence using the word"`
}

// DefaultFlashcard returns the card every new session starts with.
func DefaultFlashcard() Flashcard {
	return Flashcard{
		Word:            "scrumptious",
		Definition:      "tasting extremely good",
		ExampleSentence: "a scrumptious breakfast",
	}
}
