package bridge

import "context"

// Adapter drives one kind of capture session (camera stand-in, prompt, remote
// device) and reports what happens through an EventSink.
//
// StartSession returns once the session is underway; an error means it could not
// be started at all. Every event the adapter emits must carry the given id.
// StopSession is idempotent. After it returns no codefound event may be emitted
// for that id, though one ended or errorfound may still follow.
type Adapter interface {
	Name() string
	StartSession(ctx context.Context, id uint64, req ScanRequest, sink EventSink) error
	StopSession(id uint64)
}
