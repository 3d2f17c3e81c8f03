package model

// Difficulty values accepted by the trivia provider.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Question types accepted by the trivia provider.
const (
	QuestionTypeMultiple = "multiple"
	QuestionTypeBoolean  = "boolean"
)

// QuizQuestion is a normalized trivia question. Options are already shuffled and
// exactly one of them equals CorrectAnswer.
type QuizQuestion struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Category      string   `json:"category"`
	Difficulty    string   `json:"difficulty"`
	Type          string   `json:"type"`
}

// QuestionSpec describes the question set to fetch for a new session.
type QuestionSpec struct {
	Amount     int
	CategoryID *int
	Difficulty string
	Type       string
}

// Category is a trivia category as listed by the provider.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
