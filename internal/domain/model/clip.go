package model

// Clip is the minimal metadata the orchestrator reads about a target entity.
// The full project/scene/clip hierarchy lives outside this subsystem.
type Clip struct {
	ID      string `json:"id"`
	SceneID string `json:"scene_id"`
	Name    string `json:"name"`
}
