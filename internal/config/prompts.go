package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Prompts holds the instruction templates sent to the completion model.
// Placeholders: {title}, {context}, {text}.
type Prompts struct {
	Chat    ChatPrompts    `yaml:"chat"`
	Review  ReviewPrompts  `yaml:"review"`
	Summary SummaryPrompts `yaml:"summary"`
}

type ChatPrompts struct {
	System string `yaml:"system"`
}

type ReviewPrompts struct {
	Instruction string `yaml:"instruction"`
}

type SummaryPrompts struct {
	System      string            `yaml:"system"`
	DefaultMode string            `yaml:"default_mode"`
	Modes       map[string]string `yaml:"modes"`
}

func DefaultPrompts() *Prompts {
	return &Prompts{
		Chat: ChatPrompts{
			System: `You are an academic research assistant discussing the paper "{title}".

Instructions:
1. Answer the question primarily from the retrieved context below.
2. Refer to the context implicitly when you use it (e.g. "the methodology section states...").
3. Only quote numbers and results that appear in the context.
4. If the answer is not in the context, say: "I cannot find this specific information in the retrieved context," then offer a general answer if you can.
5. Keep a professional, academic tone.

Retrieved context:
{context}`,
		},
		Review: ReviewPrompts{
			Instruction: `You are an expert academic reviewer. Analyze the provided context of the paper "{title}".

Output a JSON object with exactly two keys:
1. "markdown_report": a Markdown review with the sections "## TL;DR", "## Critical Analysis" and "## Innovation".
2. "suggested_questions": an array of 3 specific follow-up questions.

Use only the context below. If it does not support a claim, say so.

Context:
{context}`,
		},
		Summary: SummaryPrompts{
			System:      "You are an academic assistant. Summarize research papers faithfully using only the material provided. If something is not covered by the material, say so.",
			DefaultMode: "quick_summary",
			Modes: map[string]string{
				"quick_summary":    "Write a concise summary (under 150 words) of the paper covering the problem, the method and the main result.\n\n{text}",
				"detailed_summary": "Write a structured summary of the paper with the sections Background, Method, Results and Limitations.\n\n{text}",
				"eli5":             "Explain this paper to a curious twelve-year-old in a few short paragraphs.\n\n{text}",
			},
		},
	}
}

// LoadPrompts reads a YAML prompt file on top of the defaults. An empty path
// returns the defaults unchanged.
func LoadPrompts(path string) (*Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is from application config
	if err != nil {
		return nil, fmt.Errorf("%w: read prompts: %v", ErrConfiguration, err)
	}

	var fromFile Prompts
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("%w: parse prompts: %v", ErrConfiguration, err)
	}

	if fromFile.Chat.System != "" {
		p.Chat.System = fromFile.Chat.System
	}
	if fromFile.Review.Instruction != "" {
		p.Review.Instruction = fromFile.Review.Instruction
	}
	if fromFile.Summary.System != "" {
		p.Summary.System = fromFile.Summary.System
	}
	if fromFile.Summary.DefaultMode != "" {
		p.Summary.DefaultMode = fromFile.Summary.DefaultMode
	}
	for mode, tmpl := range fromFile.Summary.Modes {
		p.Summary.Modes[mode] = tmpl
	}

	if _, ok := p.Summary.Modes[p.Summary.DefaultMode]; !ok {
		return nil, fmt.Errorf("%w: summary default_mode %q has no template", ErrConfiguration, p.Summary.DefaultMode)
	}
	return p, nil
}
