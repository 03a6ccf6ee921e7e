package provider

import (
	"fmt"
	"sort"
)

type Style struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"-"`
}

var catalog = map[string]Style{
	"pro-headshot-4x5": {
		ID:          "pro-headshot-4x5",
		Name:        "Professional Headshot",
		Description: "Corporate portrait: neutral background, soft studio lighting, business attire",
		Prompt: "Turn this photo into a professional 4:5 corporate headshot. Keep the person's facial identity exactly. " +
			"Use a plain neutral grey background, soft even studio lighting, and tidy business attire. Head and shoulders framing.",
	},
	"idphoto-us-600": {
		ID:          "idphoto-us-600",
		Name:        "US Visa/Passport ID Photo",
		Description: "600x600 px, solid white background, frontal face, neutral expression, no glasses",
		Prompt: "Produce a 600x600 US visa ID photo from this picture. Solid white background, face centered and frontal, " +
			"neutral expression, eyes open, no glasses, even lighting without shadows. Do not alter facial features.",
	},
	"kawaii-manga-from-photo": {
		ID:          "kawaii-manga-from-photo",
		Name:        "Cute Manga (Identity Preserved)",
		Description: "Cartoon/manga photo style; preserve facial identity, slightly enlarge eyes; rectangular image",
		Prompt: "Redraw this photo as a cute manga illustration. Preserve the person's identity and hairstyle, slightly enlarge the eyes, " +
			"use clean line art and soft pastel shading. Keep the original rectangular composition.",
	},
	"cyberpunk-portrait": {
		ID:          "cyberpunk-portrait",
		Name:        "Cyberpunk Portrait (Identity Preserved)",
		Description: "Neon-drenched cyberpunk photo style; preserve original facial identity",
		Prompt: "Restyle this portrait as a neon cyberpunk photo: night city bokeh, magenta and cyan rim light, light rain. " +
			"Preserve the original facial identity and expression.",
	},
	"passport-photo": {
		ID:          "passport-photo",
		Name:        "Passport photo",
		Description: "Passport photo style",
		Prompt: "Convert this picture into a standard passport photo: plain light background, frontal pose, neutral expression, " +
			"shoulders visible, sharp focus.",
	},
}

// Short style names accepted for compatibility with older clients.
var legacyPrompts = map[string]string{
	"anime":        "Transform this image into anime style with vibrant colors and clean line art",
	"cartoon":      "Transform this image into a playful cartoon with bold outlines",
	"realistic":    "Enhance this image into a photorealistic rendering with natural lighting",
	"oil_painting": "Transform this image into a classical oil painting with visible brush strokes",
	"watercolor":   "Transform this image into a soft watercolor painting",
	"sketch":       "Transform this image into a detailed pencil sketch",
	"cyberpunk":    "Transform this image into cyberpunk style with neon lights",
	"vintage":      "Transform this image into a vintage photograph with faded film tones",
	"fantasy":      "Transform this image into a fantasy illustration with magical atmosphere",
	"minimalist":   "Transform this image into a minimalist design with flat colors",
}

// Styles returns the catalogue sorted by id.
func Styles() []Style {
	out := make([]Style, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupStyle reports whether id names a catalogue or legacy style.
func LookupStyle(id string) (Style, bool) {
	if s, ok := catalog[id]; ok {
		return s, true
	}
	if p, ok := legacyPrompts[id]; ok {
		return Style{ID: id, Name: id, Prompt: p}, true
	}
	return Style{}, false
}

// PromptFor returns the prompt for style, falling back to a generic one.
func PromptFor(style string) string {
	if s, ok := LookupStyle(style); ok {
		return s.Prompt
	}
	return fmt.Sprintf("Transform this image with %s style", style)
}
