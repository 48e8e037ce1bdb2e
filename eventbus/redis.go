package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/iceos/core/ice"
	"github.com/redis/go-redis/v9"
)

// RedisBus persists a run's events to a Redis Stream so they survive process
// restarts; each XADD trims the stream to about retentionMaxLen entries via
// approximate MAXLEN. Stream IDs ("<ms>-<n>") are monotonic per key, and
// Seq packs both parts of the ID so it keeps that order.
type RedisBus struct {
	client    *redis.Client
	streamKey string
	maxLen    int64
	clock     ice.Clock
}

func NewRedisBus(client *redis.Client, runID ice.RunID, retentionMaxLen int64, clock ice.Clock) *RedisBus {
	if clock == nil {
		clock = ice.SystemClock
	}
	return &RedisBus{
		client:    client,
		streamKey: fmt.Sprintf("iceos:run:%s:events", runID),
		maxLen:    retentionMaxLen,
		clock:     clock,
	}
}

func (b *RedisBus) Append(ctx context.Context, kind string, runID ice.RunID, nodeID ice.NodeID, data map[string]any) (Record, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Record{}, ice.Wrap(ice.KindInternal, err, "eventbus: marshal event data")
	}
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind":      kind,
			"node_id":   string(nodeID),
			"data":      payload,
			"timestamp": b.clock.Now().UnixMilli(),
		},
	}).Result()
	if err != nil {
		return Record{}, ice.Wrap(ice.KindInternal, err, "eventbus: XADD %s", b.streamKey)
	}
	return parseRecord(id, runID, kind, nodeID, data, b.clock)
}

// Since reads every entry after the Redis stream ID corresponding to
// sinceSeq (0 means "from the start").
func (b *RedisBus) Since(ctx context.Context, sinceSeq uint64) ([]Record, error) {
	start := "0"
	if sinceSeq > 0 {
		start = fmt.Sprintf("(%d-%d", sinceSeq>>seqShift, sinceSeq&(1<<seqShift-1))
	}
	entries, err := b.client.XRange(ctx, b.streamKey, start, "+").Result()
	if err != nil {
		return nil, ice.Wrap(ice.KindInternal, err, "eventbus: XRANGE %s", b.streamKey)
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		seq, err := streamSeq(e.ID)
		if err != nil {
			continue
		}
		var data map[string]any
		if raw, ok := e.Values["data"].(string); ok {
			_ = json.Unmarshal([]byte(raw), &data)
		}
		kind, _ := e.Values["kind"].(string)
		nodeID, _ := e.Values["node_id"].(string)
		out = append(out, Record{Seq: seq, Kind: kind, NodeID: ice.NodeID(nodeID), Data: data})
	}
	return out, nil
}

// seqShift is the bit width given to the per-millisecond counter <n> when
// a stream ID "<ms>-<n>" is packed into Seq as ms<<seqShift | n.
const seqShift = 20

func streamSeq(id string) (uint64, error) {
	msPart, nPart, hasN := strings.Cut(id, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return 0, err
	}
	var n uint64
	if hasN {
		if n, err = strconv.ParseUint(nPart, 10, 64); err != nil {
			return 0, err
		}
	}
	return ms<<seqShift | n, nil
}

func parseRecord(streamID string, runID ice.RunID, kind string, nodeID ice.NodeID, data map[string]any, clock ice.Clock) (Record, error) {
	seq, err := streamSeq(streamID)
	if err != nil {
		return Record{}, err
	}
	return Record{Seq: seq, RunID: runID, Kind: kind, NodeID: nodeID, Data: data, Timestamp: clock.Now().UnixMilli()}, nil
}
