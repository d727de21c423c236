// Package pipeline implements the stage handlers of the content pipeline:
// intake, research, knowledge-base build, sitemap, content, image storage
// and publish. Each handler owns a strongly typed input/output payload,
// talks to the text model through the shared rate limiter, and chains the
// next stage by returning follow-on task specs to the engine.
//
// The image generation stage is implemented by package imageqa and is
// registered here alongside the rest so one Register call wires the whole
// pipeline.
package pipeline
