package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"marketpulse/internal/domain"
)

func TestEncodeMatchesSnapshotFile(t *testing.T) {
	snaps := map[string]domain.Snapshot{
		"SPY": {Symbol: "SPY", Type: domain.AssetClassETF, CurrentPrice: 500, Volume: 7, LastUpdated: 1},
	}
	data, err := encode(snaps)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["SPY"]["type"] != "etf" || raw["SPY"]["ninetyDayAgoPrice"] != float64(0) {
		t.Errorf("unexpected payload: %s", data)
	}
}

func TestS3Keys(t *testing.T) {
	a := &S3Archiver{prefix: "prod/marketpulse"}
	got := a.keys(time.Date(2025, 4, 30, 23, 0, 0, 0, time.UTC))
	want := []string{
		"prod/marketpulse/market_data.json",
		"prod/marketpulse/history/2025-04-30/market_data.json",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}

	bare := (&S3Archiver{}).keys(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if bare[0] != "market_data.json" {
		t.Errorf("unprefixed latest key = %q", bare[0])
	}
}

func TestRedisPublisherDefaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	p := newRedisPublisher(rdb, RedisConfig{})
	if p.key != "marketpulse:snapshot" || p.channel != "marketpulse:snapshots" {
		t.Errorf("defaults = %q, %q", p.key, p.channel)
	}
	if p.Name() != "redis" {
		t.Errorf("Name = %q", p.Name())
	}
}

// txRecorder answers transaction pipelines in place of a Redis server and
// records the commands it was sent.
type txRecorder struct {
	mu   sync.Mutex
	cmds [][]any
	err  error
}

func (r *txRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (r *txRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (r *txRecorder) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range cmds {
			r.cmds = append(r.cmds, c.Args())
		}
		return r.err
	}
}

func TestRedisPublish(t *testing.T) {
	rec := &txRecorder{}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	rdb.AddHook(rec)

	p := newRedisPublisher(rdb, RedisConfig{Key: "mp:latest", Channel: "mp:updates", TTL: 90 * time.Second})
	snaps := map[string]domain.Snapshot{
		"AAPL": {Symbol: "AAPL", Type: domain.AssetClassStock, CurrentPrice: 232, LastUpdated: 1},
	}
	if err := p.Publish(context.Background(), snaps); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want, _ := encode(snaps)

	var names []string
	for _, args := range rec.cmds {
		names = append(names, args[0].(string))
	}
	if !reflect.DeepEqual(names, []string{"multi", "set", "publish", "exec"}) {
		t.Fatalf("commands = %v", names)
	}
	set, pub := rec.cmds[1], rec.cmds[2]
	if set[1] != "mp:latest" || string(set[2].([]byte)) != string(want) {
		t.Errorf("SET args = %v", set[:2])
	}
	if len(set) != 5 || set[3] != "ex" || set[4] != int64(90) {
		t.Errorf("SET expiry args = %v", set[3:])
	}
	if pub[1] != "mp:updates" || string(pub[2].([]byte)) != string(want) {
		t.Errorf("PUBLISH args = %v", pub[:2])
	}

	rec.err = errors.New("connection reset")
	if err := p.Publish(context.Background(), snaps); err == nil || !errors.Is(err, rec.err) {
		t.Errorf("Publish with failing transaction err = %v", err)
	}
}

type putRecorder struct {
	keys   []string
	bodies []string
	input  *s3.PutObjectInput
	failOn string
}

func (p *putRecorder) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == p.failOn {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, string(body))
	p.input = in
	return &s3.PutObjectOutput{}, nil
}

func TestS3Publish(t *testing.T) {
	rec := &putRecorder{}
	a := &S3Archiver{
		client: rec,
		bucket: "market",
		prefix: "prod",
		now:    func() time.Time { return time.Date(2025, 3, 10, 21, 5, 0, 0, time.UTC) },
	}
	snaps := map[string]domain.Snapshot{
		"bitcoin": {Symbol: "bitcoin", Type: domain.AssetClassCrypto, CurrentPrice: 81000},
	}
	if err := a.Publish(context.Background(), snaps); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	wantKeys := []string{"prod/market_data.json", "prod/history/2025-03-10/market_data.json"}
	if !reflect.DeepEqual(rec.keys, wantKeys) {
		t.Errorf("keys = %v, want %v", rec.keys, wantKeys)
	}
	want, _ := encode(snaps)
	for i, body := range rec.bodies {
		if body != string(want) {
			t.Errorf("body %d = %s, want %s", i, body, want)
		}
	}
	if aws.ToString(rec.input.Bucket) != "market" || aws.ToString(rec.input.ContentType) != "application/json" {
		t.Errorf("input bucket = %q, content type = %q", aws.ToString(rec.input.Bucket), aws.ToString(rec.input.ContentType))
	}

	failing := &S3Archiver{client: &putRecorder{failOn: "market_data.json"}, bucket: "market", now: time.Now}
	if err := failing.Publish(context.Background(), snaps); err == nil {
		t.Error("Publish ignored a PutObject failure")
	}
}
