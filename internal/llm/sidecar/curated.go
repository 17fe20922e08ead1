package sidecar

// CuratedModel is one entry from the fixed AirLLM model catalogue
// (airllm_list_models). AirLLM has no registry endpoint to query the way
// Ollama does, so the host ships a short curated list instead, grounded on
// original_source/worker/services/airllm_manager.py's curated_models.
type CuratedModel struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Provider string `json:"provider"`
}

// CuratedModels returns the fixed catalogue offered for airllm_enable.
func CuratedModels() []CuratedModel {
	return []CuratedModel{
		{ID: "meta-llama/Llama-2-7b-chat-hf", Label: "Llama-2-7B-Chat (HF)", Provider: "airllm"},
		{ID: "mistralai/Mistral-7B-Instruct-v0.2", Label: "Mistral-7B-Instruct v0.2", Provider: "airllm"},
		{ID: "Qwen/Qwen2.5-7B-Instruct", Label: "Qwen2.5-7B-Instruct", Provider: "airllm"},
	}
}
