package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ducminhle1904/crypto-risk-core/pkg/types"
)

// CycleInput is what a decision source hands the core for one cycle
type CycleInput struct {
	Proposals []types.ActionProposal `json:"proposals"`
	// Marks are latest prices by symbol, fed to simulated venues
	Marks map[string]float64 `json:"marks,omitempty"`
}

// DecisionSource produces the proposals of a cycle
type DecisionSource interface {
	Next(ctx context.Context) (*CycleInput, error)
}

// StaticSource returns the same input every cycle
type StaticSource struct {
	Input CycleInput
}

// Next implements DecisionSource
func (s *StaticSource) Next(context.Context) (*CycleInput, error) {
	in := s.Input
	return &in, nil
}

// JSONFileSource reads proposals from a file the external decision layer
// rewrites each cycle. The file holds either a bare array of proposals or an
// object with "proposals" and optional "marks".
type JSONFileSource struct {
	Path string
}

// NewJSONFileSource creates a file source
func NewJSONFileSource(path string) *JSONFileSource {
	return &JSONFileSource{Path: path}
}

// Next reads and normalizes the file. A missing file is an empty cycle.
func (s *JSONFileSource) Next(ctx context.Context) (*CycleInput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return &CycleInput{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read decisions file: %w", err)
	}
	return ParseCycleInput(data)
}

// ParseCycleInput decodes either input shape and normalizes action,
// direction and symbol casing
func ParseCycleInput(data []byte) (*CycleInput, error) {
	trimmed := strings.TrimSpace(string(data))
	in := &CycleInput{}
	if trimmed == "" {
		return in, nil
	}

	var raw []rawProposal
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode proposals: %w", err)
		}
	} else {
		var doc struct {
			Proposals []rawProposal      `json:"proposals"`
			Marks     map[string]float64 `json:"marks"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode decisions document: %w", err)
		}
		raw = doc.Proposals
		if len(doc.Marks) > 0 {
			in.Marks = make(map[string]float64, len(doc.Marks))
			for symbol, price := range doc.Marks {
				in.Marks[strings.ToUpper(strings.TrimSpace(symbol))] = price
			}
		}
	}

	for i, r := range raw {
		p, err := r.proposal()
		if err != nil {
			return nil, fmt.Errorf("proposal %d: %w", i, err)
		}
		in.Proposals = append(in.Proposals, p)
	}
	return in, nil
}

// rawProposal accepts free-form action and direction text
type rawProposal struct {
	types.ActionProposal
	Action    string `json:"action"`
	Direction string `json:"direction"`
}

func (r rawProposal) proposal() (types.ActionProposal, error) {
	p := r.ActionProposal
	action, err := types.ParseAction(r.Action)
	if err != nil {
		return p, err
	}
	p.Action = action
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	p.Direction = types.Direction(strings.ToUpper(strings.TrimSpace(r.Direction)))
	return p, nil
}
