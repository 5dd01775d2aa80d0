package service

import "github.com/devrev/pairdb/offload-engine/internal/model"

// Callback types for the four notification channels
type (
	ProgressCallback     func(model.OffloadProgress)
	CompletionCallback   func(model.OffloadResult)
	ErrorCallback        func(string)
	StatusChangeCallback func(previous, next model.OffloadStatus)
)

// EventDispatcher delivers progress, completion, error and status
// change notifications. Each channel holds at most one subscriber;
// re-subscribing replaces the previous one. Dispatch is synchronous at
// the point the owning state mutates, so subscribers observe a strictly
// ordered, gap-free view of the operation. The dispatcher itself is
// unsynchronized: the owning manager guards it with its lock, which
// also means subscriber code runs with that lock held and must return
// promptly without calling back into the manager.
type EventDispatcher struct {
	onProgress     ProgressCallback
	onComplete     CompletionCallback
	onError        ErrorCallback
	onStatusChange StatusChangeCallback
}

// SetProgress replaces the progress subscriber
func (d *EventDispatcher) SetProgress(cb ProgressCallback) {
	d.onProgress = cb
}

// SetCompletion replaces the completion subscriber
func (d *EventDispatcher) SetCompletion(cb CompletionCallback) {
	d.onComplete = cb
}

// SetError replaces the error subscriber
func (d *EventDispatcher) SetError(cb ErrorCallback) {
	d.onError = cb
}

// SetStatusChange replaces the status change subscriber
func (d *EventDispatcher) SetStatusChange(cb StatusChangeCallback) {
	d.onStatusChange = cb
}

// FireProgress notifies the progress subscriber
func (d *EventDispatcher) FireProgress(p model.OffloadProgress) {
	if d.onProgress != nil {
		d.onProgress(p)
	}
}

// FireCompletion notifies the completion subscriber
func (d *EventDispatcher) FireCompletion(r model.OffloadResult) {
	if d.onComplete != nil {
		d.onComplete(r)
	}
}

// FireError notifies the error subscriber
func (d *EventDispatcher) FireError(msg string) {
	if d.onError != nil {
		d.onError(msg)
	}
}

// FireStatusChange notifies the status change subscriber, once per
// transition, carrying the previous and next status.
func (d *EventDispatcher) FireStatusChange(previous, next model.OffloadStatus) {
	if d.onStatusChange != nil {
		d.onStatusChange(previous, next)
	}
}
