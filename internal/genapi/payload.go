package genapi

import "strings"

// Payload is the generation request body sent to the remote service.
type Payload struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"imageUrls"`
	ImageSize   string   `json:"imageSize,omitempty"`
	AspectRatio string   `json:"aspectRatio,omitempty"`
	Width       int      `json:"width,omitempty"`
	Height      int      `json:"height,omitempty"`
}

// AspectRatioAuto lets the remote service choose the output ratio.
const AspectRatioAuto = "Auto"

type dims struct{ w, h int }

// seedreamDims maps (size, ratio) to explicit pixel dimensions for the
// seedream model family. Combinations outside this table fall back to a
// named size plus a ratio directive in the prompt. The values mirror the
// remote service's documented output resolutions and must not be changed
// without coordinating with it.
var seedreamDims = map[string]map[string]dims{
	"1K": {
		"1:1":  {1024, 1024},
		"4:3":  {1152, 864},
		"3:4":  {864, 1152},
		"16:9": {1280, 720},
		"9:16": {720, 1280},
	},
	"2K": {
		"1:1":  {2048, 2048},
		"4:3":  {2304, 1728},
		"3:4":  {1728, 2304},
		"16:9": {2560, 1440},
		"9:16": {1440, 2560},
	},
}

// BuildPayload encodes size and aspect ratio the way the selected model
// family expects:
//
//   - nano-banana models take a named image size and a direct aspect-ratio
//     field;
//   - seedream models take explicit pixel dimensions for the (size, ratio)
//     pairs they support, otherwise a named size with an " --ar" directive
//     appended to the prompt;
//   - every other model takes a named size only, with the ratio directive
//     appended to the prompt when one is requested.
func BuildPayload(modelName, size, ratio, prompt string, imageURLs []string) Payload {
	p := Payload{
		Model:     modelName,
		Prompt:    prompt,
		ImageURLs: imageURLs,
	}

	switch {
	case strings.HasPrefix(modelName, "nano-banana"):
		p.ImageSize = size
		if ratio != "" && ratio != AspectRatioAuto {
			p.AspectRatio = ratio
		}
	case strings.HasPrefix(modelName, "seedream"):
		if d, ok := seedreamDims[size][ratio]; ok {
			p.Width, p.Height = d.w, d.h
		} else {
			p.ImageSize = size
			if ratio != "" && ratio != AspectRatioAuto {
				p.Prompt += " --ar " + ratio
			}
		}
	default:
		p.ImageSize = size
		if ratio != "" && ratio != AspectRatioAuto {
			p.Prompt += " --ar " + ratio
		}
	}

	return p
}
