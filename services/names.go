package services

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const defaultNameCount = 5

const namesSystemPrompt = "You are a helpful assistant that generates baby names based on the user's criteria such as gender, origin, starting letter, meaning, and name length."

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

type NameRequest struct {
	Gender      string      `json:"gender"`
	Origin      string      `json:"origin"`
	Meaning     string      `json:"meaning"`
	NameLength  interface{} `json:"name_length"`
	StartLetter string      `json:"start_letter"`
	Count       int         `json:"count"`
}

type BabyName struct {
	Name    string `json:"Name"`
	Meaning string `json:"Meaning"`
}

type NameEndpoints struct {
	groq *GroqService
}

func NewNameEndpoints(groq *GroqService) *NameEndpoints {
	return &NameEndpoints{groq: groq}
}

func (e *NameEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/generate-name", e.GenerateHandler)
}

func (req NameRequest) prompt() string {
	length := ""
	if req.NameLength != nil {
		length = fmt.Sprint(req.NameLength)
	}
	return fmt.Sprintf("Generate %d %s baby names that are %s, start with the letter '%s', have a meaning related to '%s', and have a name length of %s.",
		req.Count, req.Origin, req.Gender, req.StartLetter, req.Meaning, length)
}

// ParseNames keeps the "Name - Meaning" lines of a completion.
func ParseNames(content string) []BabyName {
	title := cases.Title(language.Und, cases.NoLower)

	names := []BabyName{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, " - ")
		if len(parts) != 2 {
			continue
		}
		name := strings.Trim(listMarker.ReplaceAllString(parts[0], ""), "* ")
		if name == "" {
			continue
		}
		names = append(names, BabyName{
			Name:    title.String(name),
			Meaning: strings.TrimSpace(parts[1]),
		})
	}
	return names
}

func (e *NameEndpoints) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Count <= 0 {
		req.Count = defaultNameCount
	}

	content, err := e.groq.Complete(r.Context(), NameModel, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: namesSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.prompt()},
	}, 150, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"baby_names": ParseNames(content)})
}
