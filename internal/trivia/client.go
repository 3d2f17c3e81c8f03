// Package trivia adapts the Open Trivia DB API into normalized quiz questions.
package trivia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/trivia-backend/internal/model"
)

const (
	questionsPath  = "/api.php"
	categoriesPath = "/api_category.php"
	maxAmount      = 50
)

// Response codes returned by Open Trivia DB in the response_code field.
const (
	CodeSuccess          = 0
	CodeNoResults        = 1
	CodeInvalidParameter = 2
	CodeTokenNotFound    = 3
	CodeTokenEmpty       = 4
	CodeRateLimit        = 5
)

// ErrNoQuestions is returned when the provider answers successfully with an empty set.
var ErrNoQuestions = errors.New("trivia provider returned no questions")

// APIError carries a non-zero response_code from the provider.
type APIError struct {
	Code int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trivia provider: %s (response_code=%d)", codeMessage(e.Code), e.Code)
}

func codeMessage(code int) string {
	switch code {
	case CodeSuccess:
		return "success"
	case CodeNoResults:
		return "not enough questions available for the specified parameters"
	case CodeInvalidParameter:
		return "invalid parameter provided"
	case CodeTokenNotFound:
		return "session token not found"
	case CodeTokenEmpty:
		return "session token exhausted"
	case CodeRateLimit:
		return "too many requests, retry in a few seconds"
	default:
		return "unknown error"
	}
}

// rawQuestion mirrors the Open Trivia DB question payload.
type rawQuestion struct {
	Type             string   `json:"type"`
	Difficulty       string   `json:"difficulty"`
	Category         string   `json:"category"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

type questionsResponse struct {
	ResponseCode int           `json:"response_code"`
	Results      []rawQuestion `json:"results"`
}

type categoriesResponse struct {
	TriviaCategories []model.Category `json:"trivia_categories"`
}

// Client talks to an Open Trivia DB compatible endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	newID   func() string
	shuffle func(n int, swap func(i, j int))
}

// NewClient creates a Client. A nil httpClient falls back to http.DefaultClient.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   uuid.NewString,
		shuffle: rand.Shuffle,
	}
}

// FetchQuestions retrieves and normalizes a question set for spec.
func (c *Client) FetchQuestions(ctx context.Context, spec model.QuestionSpec) ([]model.QuizQuestion, error) {
	amount := min(max(spec.Amount, 1), maxAmount)

	query := url.Values{}
	query.Set("amount", strconv.Itoa(amount))
	if spec.CategoryID != nil {
		query.Set("category", strconv.Itoa(*spec.CategoryID))
	}
	if spec.Difficulty != "" {
		query.Set("difficulty", spec.Difficulty)
	}
	if spec.Type != "" {
		query.Set("type", spec.Type)
	}

	var payload questionsResponse
	if err := c.getJSON(ctx, questionsPath+"?"+query.Encode(), &payload); err != nil {
		return nil, err
	}
	if payload.ResponseCode != CodeSuccess {
		return nil, &APIError{Code: payload.ResponseCode}
	}
	if len(payload.Results) == 0 {
		return nil, ErrNoQuestions
	}

	questions := make([]model.QuizQuestion, 0, len(payload.Results))
	for _, raw := range payload.Results {
		questions = append(questions, c.normalize(raw))
	}
	return questions, nil
}

// FetchCategories lists every category the provider knows about.
func (c *Client) FetchCategories(ctx context.Context) ([]model.Category, error) {
	var payload categoriesResponse
	if err := c.getJSON(ctx, categoriesPath, &payload); err != nil {
		return nil, err
	}
	return payload.TriviaCategories, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request trivia provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("trivia provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode trivia response: %w", err)
	}
	return nil
}

// normalize decodes HTML entities, shuffles the options and assigns an id.
func (c *Client) normalize(raw rawQuestion) model.QuizQuestion {
	correct := html.UnescapeString(raw.CorrectAnswer)

	options := make([]string, 0, len(raw.IncorrectAnswers)+1)
	options = append(options, correct)
	for _, wrong := range raw.IncorrectAnswers {
		options = append(options, html.UnescapeString(wrong))
	}
	c.shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return model.QuizQuestion{
		ID:            c.newID(),
		Question:      html.UnescapeString(raw.Question),
		Options:       options,
		CorrectAnswer: correct,
		Category:      html.UnescapeString(raw.Category),
		Difficulty:    raw.Difficulty,
		Type:          raw.Type,
	}
}
