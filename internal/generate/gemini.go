package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"
	"google.golang.org/genai"
)

const (
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultGeminiTimeout = 20 * time.Second

	maxToolRounds = 4
)

// Gemini generates content with Google's Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	temperature *float32
}

type GeminiOption func(*Gemini) error

func WithModel(model string) GeminiOption {
	return func(g *Gemini) error {
		if strings.TrimSpace(model) == "" {
			return errors.New("gemini model must not be empty")
		}
		g.model = model
		return nil
	}
}

// WithTimeout bounds every Generate call. Zero disables the bound.
func WithTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) error {
		if d < 0 {
			return fmt.Errorf("gemini timeout must be >= 0, got %s", d)
		}
		g.timeout = d
		return nil
	}
}

func WithTemperature(t float32) GeminiOption {
	return func(g *Gemini) error {
		g.temperature = &t
		return nil
	}
}

func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini API key is required")
	}
	g := &Gemini{model: DefaultGeminiModel, timeout: DefaultGeminiTimeout}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(g); err != nil {
			return nil, err
		}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *Gemini) Model() string { return g.model }

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{Temperature: g.temperature}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	tools, err := declarations(req)
	if err != nil {
		return "", err
	}
	if tools != nil {
		// Function calling cannot be combined with a JSON response type.
		cfg.Tools = []*genai.Tool{tools}
	} else if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	return converse(ctx, req, func(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
		return g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	})
}

type sendFunc func(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error)

// converse sends the prompt and answers the model's function calls until it
// replies with text.
func converse(ctx context.Context, req Request, send sendFunc) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	for round := 0; ; round++ {
		resp, err := send(ctx, contents)
		if err != nil {
			return "", fmt.Errorf("gemini generate failed: %w", err)
		}
		calls := resp.FunctionCalls()
		if len(calls) == 0 || req.Call == nil {
			text := strings.TrimSpace(resp.Text())
			if text == "" {
				return "", ErrEmptyResponse
			}
			return text, nil
		}
		if round == maxToolRounds {
			return "", ErrToolRounds
		}

		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}
		parts := make([]*genai.Part, 0, len(calls))
		for _, fc := range calls {
			parts = append(parts, answer(ctx, req.Call, fc))
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}
}

// answer runs one function call. Tool errors go back to the model as an
// error field so it can recover.
func answer(ctx context.Context, call CallFunc, fc *genai.FunctionCall) *genai.Part {
	response := map[string]any{}
	args, err := json.Marshal(fc.Args)
	if err == nil {
		var out json.RawMessage
		if out, err = call(ctx, fc.Name, args); err == nil {
			if uerr := json.Unmarshal(out, &response); uerr != nil {
				response = map[string]any{"output": string(out)}
			}
		}
	}
	if err != nil {
		response = map[string]any{"error": err.Error()}
	}
	part := genai.NewPartFromFunctionResponse(fc.Name, response)
	part.FunctionResponse.ID = fc.ID
	return part
}

// declarations converts the request tools into Gemini function declarations.
func declarations(req Request) (*genai.Tool, error) {
	if len(req.Tools) == 0 || req.Call == nil {
		return nil, nil
	}
	out := &genai.Tool{}
	for _, t := range req.Tools {
		fd, err := declaration(t)
		if err != nil {
			return nil, err
		}
		out.FunctionDeclarations = append(out.FunctionDeclarations, fd)
	}
	return out, nil
}

func declaration(t llmtoolsgoSpec.Tool) (*genai.FunctionDeclaration, error) {
	var schema map[string]any
	if err := json.Unmarshal([]byte(t.ArgSchema), &schema); err != nil {
		return nil, fmt.Errorf("tool %s: invalid arg schema: %w", t.Slug, err)
	}
	delete(schema, "$schema")
	return &genai.FunctionDeclaration{
		Name:                 t.Slug,
		Description:          t.Description,
		ParametersJsonSchema: schema,
	}, nil
}
