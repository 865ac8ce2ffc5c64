package ai

import (
	"os"
	"path/filepath"
)

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func hasVertexADCCredentials() bool {
	if path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); path != "" {
		_, err := os.Stat(path)
		return err == nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(home, ".config", "gcloud", "application_default_credentials.json"))
	return err == nil
}

// authenticatedSentinel is returned for providers whose credentials live in
// an external chain (AWS credential chain, ADC) rather than a single key.
const authenticatedSentinel = "<authenticated>"

// GetEnvAPIKey resolves an API key for a provider from the environment.
// Returns "" when nothing is configured; OAuth-only providers always return
// "" here and must be given credentials explicitly.
func GetEnvAPIKey(provider string) string {
	switch provider {
	case "anthropic":
		return firstEnv("ANTHROPIC_OAUTH_TOKEN", "ANTHROPIC_API_KEY", "PI_API_KEY")
	case "github-copilot":
		return firstEnv("GITHUB_COPILOT_TOKEN", "COPILOT_GITHUB_TOKEN", "GH_TOKEN", "GITHUB_TOKEN")
	case "google-vertex":
		hasProject := firstEnv("GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT") != ""
		hasLocation := os.Getenv("GOOGLE_CLOUD_LOCATION") != ""
		if hasVertexADCCredentials() && hasProject && hasLocation {
			return authenticatedSentinel
		}
		return ""
	case "amazon-bedrock":
		if firstEnv("AWS_PROFILE", "AWS_BEARER_TOKEN_BEDROCK",
			"AWS_CONTAINER_CREDENTIALS_RELATIVE_URI", "AWS_CONTAINER_CREDENTIALS_FULL_URI",
			"AWS_WEB_IDENTITY_TOKEN_FILE") != "" {
			return authenticatedSentinel
		}
		if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
			return authenticatedSentinel
		}
		return ""
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "openai-codex":
		return os.Getenv("OPENAI_CODEX_API_KEY")
	case "azure-openai-responses":
		return os.Getenv("AZURE_OPENAI_API_KEY")
	case "google":
		return firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "cerebras":
		return os.Getenv("CEREBRAS_API_KEY")
	case "xai":
		return os.Getenv("XAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "zai":
		return os.Getenv("ZAI_API_KEY")
	case "mistral":
		return os.Getenv("MISTRAL_API_KEY")
	default:
		return ""
	}
}
