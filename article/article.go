// Package article turns a recording into a markdown article: the audio is extracted, sent to
// a transcription webhook and wrapped in a fixed article template.
package article

import (
	"context"
	"fmt"
)

// AudioExtractor returns the audio of a recording, or the recording itself when it cannot.
type AudioExtractor interface {
	Extract(ctx context.Context, recording []byte, duration float64) []byte
}

// Transcriber turns audio into text. It always answers, substituting a fallback on failure.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

// Recording is the part of an artifact the generator reads.
type Recording interface {
	Bytes() []byte
	Duration() float64
}

type Result struct {
	Article    string `json:"article"`
	Transcript string `json:"transcript"`
}

type Generator struct {
	Extractor   AudioExtractor
	Transcriber Transcriber
}

// Generate produces the article of a recording.
func (g *Generator) Generate(ctx context.Context, rec Recording) (*Result, error) {
	if rec == nil {
		return nil, fmt.Errorf("no recording")
	}

	audio := rec.Bytes()

	if g.Extractor != nil {
		audio = g.Extractor.Extract(ctx, audio, rec.Duration())
	}

	transcript := g.Transcriber.Transcribe(ctx, audio)

	return &Result{
		Article:    GenerateArticle(transcript),
		Transcript: transcript,
	}, nil
}

// GenerateArticle renders the article template around a transcript.
func GenerateArticle(transcript string) string {
	return "# Tutorial Article\n\n" + transcript + "\n\n" +
		"## Key Points\n\n" +
		"- Important points from the tutorial would be highlighted here\n" +
		"- These would normally be generated by an AI service\n" +
		"- The content is based on the actual transcript\n\n" +
		"## Summary\n\n" +
		"This tutorial covered several important aspects of the topic. The full transcript is provided above."
}
