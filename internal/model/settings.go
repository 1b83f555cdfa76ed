package model

// StorageSettings holds the object-storage credentials and bucket layout
// used to stage task inputs.
type StorageSettings struct {
	Endpoint   string `json:"endpoint"`
	AccessKey  string `json:"accessKey"`
	SecretKey  string `json:"secretKey"`
	Bucket     string `json:"bucket"`
	Folder     string `json:"folder"`
	UseSSL     bool   `json:"useSSL"`
	PublicBase string `json:"publicBase,omitempty"`
}

// PromptSettings holds the generation prompt text per stage.
type PromptSettings struct {
	HairstyleExtraction string `json:"hairstyleExtraction"`
	DollAssembly        string `json:"dollAssembly"`
	DollReplacement     string `json:"dollReplacement"`
}

// ForStage returns the prompt text configured for the given stage.
func (p PromptSettings) ForStage(stage Stage) string {
	switch stage {
	case StageHairstyleExtraction:
		return p.HairstyleExtraction
	case StageDollAssembly:
		return p.DollAssembly
	case StageDollReplacement:
		return p.DollReplacement
	}
	return ""
}

// Settings is the operator configuration the engine reads. It is persisted
// through the store as a raw JSON document; unknown keys written by other
// components survive a save/load cycle.
type Settings struct {
	APIKey      string          `json:"apiKey"`
	Concurrency int             `json:"concurrency"`
	WorkDir     string          `json:"workDir"`
	Storage     StorageSettings `json:"storage"`
	Prompts     PromptSettings  `json:"prompts"`
}

// DefaultSettings returns the documented configuration defaults. Persisted
// settings are merged over this on every read.
func DefaultSettings() Settings {
	return Settings{
		Concurrency: 3,
		WorkDir:     "output",
		Storage: StorageSettings{
			Folder: "dollforge",
			UseSSL: true,
		},
		Prompts: PromptSettings{
			HairstyleExtraction: "Extract the hairstyle from image 1 and place it on the bald mannequin head in image 2. Keep the hairstyle's color, texture and silhouette intact.",
			DollAssembly:        "Assemble a collectible doll using the hairstyle from image 1, the body from image 2 and the outfit from image 3. Blend the parts into one coherent figure on a clean studio background.",
			DollReplacement:     "Replace the doll in image 1 with the product shown in image 2, preserving the original pose, lighting and camera angle.",
		},
	}
}
