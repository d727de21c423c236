package pipeline

import (
	"fmt"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/imageqa"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
)

// Deps collects everything the pipeline handlers need. The image generation
// handler comes pre-built because its QA loop has its own wiring.
type Deps struct {
	Model    TextModel
	Executor ratelimit.Executor
	Runs     store.RunStore
	Tasks    store.TaskStore
	Images   store.ImageStore
	Pages    store.PageStore
	ImageGen *imageqa.Handler
}

// Register builds every stage handler and binds the full pipeline into the
// registry. A run created for either workflow type is executable once this
// returns.
func Register(registry *task.Registry, deps Deps) error {
	intake, err := NewIntakeHandler(deps.Model, deps.Executor)
	if err != nil {
		return err
	}
	research, err := NewResearchHandler(deps.Model, deps.Executor, deps.Runs)
	if err != nil {
		return err
	}
	kbBuild, err := NewKBBuildHandler(deps.Model, deps.Executor)
	if err != nil {
		return err
	}
	sitemap, err := NewSitemapHandler(deps.Model, deps.Executor)
	if err != nil {
		return err
	}
	content, err := NewContentHandler(deps.Model, deps.Executor)
	if err != nil {
		return err
	}
	imageStore, err := NewImageStoreHandler(deps.Tasks, deps.Images)
	if err != nil {
		return err
	}
	publish, err := NewPublishHandler(deps.Tasks, deps.Pages)
	if err != nil {
		return err
	}
	if deps.ImageGen == nil {
		return fmt.Errorf("pipeline: image generation handler cannot be nil")
	}

	bindings := []struct {
		taskType domain.TaskType
		handler  task.Handler
	}{
		{domain.TaskTypeIntake, intake},
		{domain.TaskTypeResearch, research},
		{domain.TaskTypeKBBuild, kbBuild},
		{domain.TaskTypeSitemap, sitemap},
		{domain.TaskTypeContent, content},
		{domain.TaskTypeImageGen, deps.ImageGen},
		{domain.TaskTypeImageStore, imageStore},
		{domain.TaskTypePublish, publish},
	}
	for _, b := range bindings {
		if err := registry.Register(b.taskType, b.handler); err != nil {
			return err
		}
	}
	return nil
}
