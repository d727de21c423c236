// Package events provides lightweight in-process publish/subscribe for
// workflow lifecycle notifications. Services emit events when runs and
// tasks change state; the dispatcher and other interested components
// register handlers to react without direct coupling to the emitting
// service.
package events
