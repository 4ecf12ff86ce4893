package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
	PartTypeAudioURL = "audio_url"
)

// Content is either PlainText or Parts.
type Content interface {
	isContent()
}

type PlainText string

type Parts []Part

func (PlainText) isContent() {}
func (Parts) isContent()     {}

// Part is one of TextPart, ImagePart or AudioPart.
type Part interface {
	isPart()
}

type TextPart struct {
	Text string
}

// ImagePart URL is either a same-origin upload link or an inline data URL.
type ImagePart struct {
	URL string
}

type AudioPart struct {
	URL string
}

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}
func (AudioPart) isPart() {}

// ValidateContent checks an outgoing content value: it must carry something
// and hold at most one image and one audio part.
func ValidateContent(content Content) error {
	switch c := content.(type) {
	case nil:
		return fmt.Errorf("%w: message content is required", ErrValidation)
	case PlainText:
		if strings.TrimSpace(string(c)) == "" {
			return fmt.Errorf("%w: message content must not be empty", ErrValidation)
		}
		return nil
	case Parts:
		if len(c) == 0 {
			return fmt.Errorf("%w: message content must not be empty", ErrValidation)
		}
		return ValidateMedia(c)
	default:
		return fmt.Errorf("%w: unsupported content %T", ErrValidation, content)
	}
}

// ValidateMedia checks the parts of content without requiring it to be
// non-empty. Every stored message, including an empty assistant reply, has to
// pass it.
func ValidateMedia(content Content) error {
	switch c := content.(type) {
	case nil, PlainText:
		return nil
	case Parts:
		var images, audios int
		for i, part := range c {
			switch p := part.(type) {
			case TextPart:
			case ImagePart:
				images++
				if strings.TrimSpace(p.URL) == "" {
					return fmt.Errorf("%w: part %d: image url is required", ErrValidation, i)
				}
			case AudioPart:
				audios++
				if strings.TrimSpace(p.URL) == "" {
					return fmt.Errorf("%w: part %d: audio url is required", ErrValidation, i)
				}
			default:
				return fmt.Errorf("%w: part %d: unsupported part %T", ErrValidation, i, part)
			}
		}
		if images > 1 {
			return fmt.Errorf("%w: at most one image per message, got %d", ErrValidation, images)
		}
		if audios > 1 {
			return fmt.Errorf("%w: at most one audio per message, got %d", ErrValidation, audios)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported content %T", ErrValidation, content)
	}
}

func ImageOf(content Content) (ImagePart, bool) {
	parts, ok := content.(Parts)
	if !ok {
		return ImagePart{}, false
	}
	for _, part := range parts {
		if image, ok := part.(ImagePart); ok {
			return image, true
		}
	}
	return ImagePart{}, false
}

func AudioOf(content Content) (AudioPart, bool) {
	parts, ok := content.(Parts)
	if !ok {
		return AudioPart{}, false
	}
	for _, part := range parts {
		if audio, ok := part.(AudioPart); ok {
			return audio, true
		}
	}
	return AudioPart{}, false
}

// TextOf joins the text carried by content. Media parts contribute nothing.
func TextOf(content Content) string {
	switch c := content.(type) {
	case PlainText:
		return string(c)
	case Parts:
		texts := make([]string, 0, len(c))
		for _, part := range c {
			switch p := part.(type) {
			case TextPart:
				if strings.TrimSpace(p.Text) != "" {
					texts = append(texts, p.Text)
				}
			case ImagePart, AudioPart:
			}
		}
		return strings.Join(texts, "\n")
	default:
		return ""
	}
}

func CloneContent(content Content) Content {
	parts, ok := content.(Parts)
	if !ok {
		return content
	}
	cloned := make(Parts, len(parts))
	copy(cloned, parts)
	return cloned
}

type urlInternal struct {
	URL string `json:"url"`
}

type partInternal struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	URL      string       `json:"url,omitempty"`
	ImageURL *urlInternal `json:"image_url,omitempty"`
	AudioURL *urlInternal `json:"audio_url,omitempty"`
}

func MarshalContent(content Content) (json.RawMessage, error) {
	switch c := content.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case PlainText:
		return json.Marshal(string(c))
	case Parts:
		parts := make([]partInternal, 0, len(c))
		for i, part := range c {
			switch p := part.(type) {
			case TextPart:
				parts = append(parts, partInternal{Type: PartTypeText, Text: p.Text})
			case ImagePart:
				parts = append(parts, partInternal{Type: PartTypeImageURL, ImageURL: &urlInternal{URL: p.URL}})
			case AudioPart:
				parts = append(parts, partInternal{Type: PartTypeAudioURL, AudioURL: &urlInternal{URL: p.URL}})
			default:
				return nil, fmt.Errorf("marshal part %d: unsupported part %T", i, part)
			}
		}
		return json.Marshal(parts)
	default:
		return nil, fmt.Errorf("marshal content: unsupported content %T", content)
	}
}

// UnmarshalContent accepts a string or an array of typed parts. Media parts
// may use the nested {"image_url":{"url":...}} form or a flat "url".
func UnmarshalContent(raw json.RawMessage) (Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return PlainText(text), nil
	}

	var rawParts []partInternal
	if err := json.Unmarshal(raw, &rawParts); err != nil {
		return nil, fmt.Errorf("%w: unsupported content structure", ErrValidation)
	}
	parts := make(Parts, 0, len(rawParts))
	for i, p := range rawParts {
		switch p.Type {
		case PartTypeText:
			parts = append(parts, TextPart{Text: p.Text})
		case PartTypeImageURL:
			parts = append(parts, ImagePart{URL: firstURL(p.ImageURL, p.URL)})
		case PartTypeAudioURL:
			parts = append(parts, AudioPart{URL: firstURL(p.AudioURL, p.URL)})
		default:
			return nil, fmt.Errorf("%w: part %d: unsupported type %q", ErrValidation, i, p.Type)
		}
	}
	return parts, nil
}

func firstURL(nested *urlInternal, flat string) string {
	if nested != nil && nested.URL != "" {
		return nested.URL
	}
	return flat
}
