package stages

import (
	"context"

	"github.com/evalgo/regwatch/events"
	"github.com/evalgo/regwatch/model"
	"github.com/evalgo/regwatch/queue"
)

// fakeBus is an in-memory queue.Bus recording every published message, so stage
// handler tests can assert on the next-stage event without a broker.
type fakeBus struct {
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	topic   string
	payload interface{}
}

func (b *fakeBus) Publish(topic string, payload interface{}) error {
	b.published = append(b.published, publishedMessage{topic, payload})
	return b.err
}

func (b *fakeBus) Subscribe(topic, consumerGroup string) (<-chan queue.Delivery, error) {
	return nil, nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) find(topic string) (interface{}, bool) {
	for _, m := range b.published {
		if m.topic == topic {
			return m.payload, true
		}
	}
	return nil, false
}

var _ queue.Bus = (*fakeBus)(nil)

// fakeSubscriptions is a subscriptionGetter backed by a plain map.
type fakeSubscriptions struct {
	byID map[int64]*model.Subscription
	err  error
}

func (f *fakeSubscriptions) Get(ctx context.Context, id int64) (*model.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.byID[id]
	if !ok {
		return nil, errNotFound
	}
	return sub, nil
}

// fakeSources is a sourceGetter backed by a plain map.
type fakeSources struct {
	byID map[int64]*model.Source
	err  error
}

func (f *fakeSources) Get(ctx context.Context, id int64) (*model.Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	src, ok := f.byID[id]
	if !ok {
		return nil, errNotFound
	}
	return src, nil
}

// fakeArtifacts is an artifactCrawlStore backed by a slice.
type fakeArtifacts struct {
	existing  *model.Artifact
	created   []*model.Artifact
	nextID    int64
	createErr error
}

func (f *fakeArtifacts) FindByRunAndSourceURL(ctx context.Context, runID int64, sourceURL string) (*model.Artifact, error) {
	return f.existing, nil
}

func (f *fakeArtifacts) Create(ctx context.Context, art *model.Artifact) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	art.ID = f.nextID
	f.created = append(f.created, art)
	return f.nextID, nil
}

// fakeVersions is a versionGetter backed by a plain map.
type fakeVersions struct {
	byID map[int64]*model.DocumentVersion
	err  error
}

func (f *fakeVersions) GetVersion(ctx context.Context, versionID int64) (*model.DocumentVersion, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.byID[versionID]
	if !ok {
		return nil, errNotFound
	}
	return v, nil
}

// fakeDeliveries is a deliveryRecorder backed by a slice.
type fakeDeliveries struct {
	nextID     int64
	completed  map[int64]string
	failed     map[int64]string
	createErr  error
	completeEr error
}

func (f *fakeDeliveries) Create(ctx context.Context, docVersionID int64, artifactType string) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeDeliveries) Complete(ctx context.Context, id int64, deliveryURI string) error {
	if f.completeEr != nil {
		return f.completeEr
	}
	if f.completed == nil {
		f.completed = map[int64]string{}
	}
	f.completed[id] = deliveryURI
	return nil
}

func (f *fakeDeliveries) Fail(ctx context.Context, id int64, errMsg string) error {
	if f.failed == nil {
		f.failed = map[int64]string{}
	}
	f.failed[id] = errMsg
	return nil
}

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "not found" }

func mustEnvelope(topic string, payload interface{}) events.Envelope {
	env, err := events.NewEnvelope(topic, payload)
	if err != nil {
		panic(err)
	}
	return env
}
