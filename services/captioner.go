package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// CaptionServiceProvider produces a short natural-language caption for one
// training image. Captioning is best-effort: callers fall back to the bare
// trigger token when it fails.
type CaptionServiceProvider interface {
	Caption(ctx context.Context, imagePath string) (string, error)
}

type GoogleCaptionService struct{}

const captionModel = "gemini-2.5-flash"

const captionPrompt = "Describe this photo of a person in one short caption for image model training. " +
	"Mention pose, clothing, setting and lighting. Do not mention identity or names. " +
	"Respond with the caption only, no quotes."

func (GoogleCaptionService) Caption(ctx context.Context, imagePath string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  os.Getenv("GOOGLE_API_KEY"),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %v", err)
	}

	genFile, err := client.Files.UploadFromPath(ctx, imagePath, &genai.UploadFileConfig{})
	if err != nil {
		return "", fmt.Errorf("error uploading image %s: %v", imagePath, err)
	}

	parts := []*genai.Part{
		{
			FileData: &genai.FileData{
				FileURI:  genFile.URI,
				MIMEType: genFile.MIMEType,
			},
		},
		{Text: captionPrompt},
	}

	result, err := client.Models.GenerateContent(ctx, captionModel, []*genai.Content{{Parts: parts}}, &genai.GenerateContentConfig{
		MaxOutputTokens: 200,
	})
	if err != nil {
		return "", fmt.Errorf("caption generation failed: %v", err)
	}

	caption := strings.TrimSpace(result.Text())
	caption = strings.Trim(caption, `"`)
	if caption == "" {
		return "", fmt.Errorf("caption model returned empty text")
	}
	// single line only, the caption file format is one line per image
	if idx := strings.Index(caption, "\n"); idx > 0 {
		caption = caption[:idx]
	}
	return caption, nil
}
