package broadcast

import "context"

// Publisher delivers committed bids to bid sessions, possibly on other
// instances.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LocalPublisher broadcasts straight into one registry.
type LocalPublisher struct {
	Registry *Registry
}

// NewLocalPublisher returns a publisher for r.
func NewLocalPublisher(r *Registry) *LocalPublisher {
	return &LocalPublisher{Registry: r}
}

// Publish implements Publisher.
func (p *LocalPublisher) Publish(ctx context.Context, ev Event) error {
	p.Registry.Broadcast(ctx, ev)
	return nil
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

var _ Publisher = (*LocalPublisher)(nil)
