package marketdata

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	topics []string
	err    error
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	r.topics = append(r.topics, topic)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	return nil
}

func TestMultiPublisher(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("broker down")}
	m := MultiPublisher{ok, failing, NopPublisher{}}

	err := m.Publish(context.Background(), "opportunity", map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, []string{"opportunity"}, ok.topics, "one failing backend does not stop the others")
	assert.Equal(t, []string{"opportunity"}, failing.topics)

	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
}

func TestRedisPublisher_Channel(t *testing.T) {
	p := NewRedisPublisher(nil, "arbfinder:")
	assert.Equal(t, "arbfinder:book_event", p.channel("book_event"))

	var _ Publisher = p
	var _ Subscriber = p
	var _ Subscriber = (*KafkaPublisher)(nil)
}

type scriptedReader struct {
	msgs   []kafka.Message
	closed bool
}

func (r *scriptedReader) ReadMessage(context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func TestKafkaPublisher_ConsumeFiltersByKey(t *testing.T) {
	k := NewKafkaPublisher([]string{"localhost:9092"}, "arbfinder.events", zaptest.NewLogger(t))
	defer k.Close()

	reader := &scriptedReader{msgs: []kafka.Message{
		{Key: []byte("feed"), Value: []byte("1")},
		{Key: []byte("opportunity"), Value: []byte("2")},
		{Key: []byte("feed"), Value: []byte("3")},
	}}
	var got []string
	k.consume(context.Background(), reader, "feed", func(b []byte) {
		got = append(got, string(b))
	})

	assert.Equal(t, []string{"1", "3"}, got)
	assert.True(t, reader.closed)
}
