package paramstores

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/mediocregopher/radix/v3"
	"github.com/mediocregopher/radix/v3/resp/resp2"
	"github.com/qvantel/solapse/internal/logger"
)

// keyPrefix namespaces the snapshots so the Redis instance can be shared with other applications
const keyPrefix = "solapse:net:"

// RedisAdapter is the snapshot store implementation for Redis, it works with a single instance or with a sentinel
// managed group
type RedisAdapter struct {
	client   redis.Client
	sentinel *redis.Sentinel

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// readClient returns a client for a random Redis instance, as reads can be handled by secondary replicas too
func (ra *RedisAdapter) readClient() (redis.Client, error) {
	if ra.sentinel == nil {
		return ra.client, nil
	}
	primary, secondaries := ra.sentinel.Addrs()
	secondaries = append(secondaries, primary)
	ra.rndMu.Lock()
	i := ra.rnd.Intn(len(secondaries))
	ra.rndMu.Unlock()
	return ra.sentinel.Client(secondaries[i])
}

// writeClient returns a client for the primary Redis instance, as that's the only one that can handle writes
func (ra *RedisAdapter) writeClient() (redis.Client, error) {
	if ra.sentinel == nil {
		return ra.client, nil
	}
	primary, _ := ra.sentinel.Addrs()
	return ra.sentinel.Client(primary)
}

// NewRedisAdapter returns an initialized Redis param store object. With a "group" param the "URLs" are treated as
// sentinel addresses, otherwise "URL" must point at a single instance
func NewRedisAdapter(conf map[string]interface{}) (*RedisAdapter, error) {
	ra := &RedisAdapter{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if group, found := conf["group"].(string); found {
		urls, ok := conf["URLs"].(string)
		if !ok {
			return nil, errors.New("a sentinel group requires a comma separated list of URLs")
		}
		sentinel, err := redis.NewSentinel(group, strings.Split(urls, ","))
		ra.sentinel = sentinel
		return ra, err
	}
	url, ok := conf["URL"].(string)
	if !ok {
		return nil, errors.New("the redis net param store requires a URL")
	}
	pool, err := redis.NewPool("tcp", url, 10)
	ra.client = pool
	return ra, err
}

// do runs a command and turns the errors returned by Redis itself into plain errors that name the action
func do(client redis.Client, action string, cmd redis.CmdAction) error {
	var redisErr resp2.Error
	err := client.Do(cmd)
	if errors.As(err, &redisErr) {
		logger.Error("Redis error returned while "+action, redisErr.E)
		return fmt.Errorf("redis error while %s: %w", action, redisErr.E)
	}
	return err
}

// Delete removes a snapshot, deleting a missing snapshot isn't an error
func (ra *RedisAdapter) Delete(id string) error {
	client, err := ra.writeClient()
	if err != nil {
		return err
	}
	var removed int
	return do(client, "deleting snapshot "+id, redis.Cmd(&removed, "DEL", keyPrefix+id))
}

// scanResult receives the reply of a single SCAN call. radix's Scanner hides the cursor, which the API needs to hand
// out pages, so the two part reply is parsed here
type scanResult struct {
	cur  int
	keys []string
}

// UnmarshalRESP reads the [cursor, [keys...]] array returned by SCAN
func (s *scanResult) UnmarshalRESP(br *bufio.Reader) error {
	var ah resp2.ArrayHeader
	if err := ah.UnmarshalRESP(br); err != nil {
		return err
	}
	if ah.N != 2 {
		return fmt.Errorf("expected a cursor and a list of keys from SCAN, got %d parts", ah.N)
	}
	var cursor resp2.BulkString
	if err := cursor.UnmarshalRESP(br); err != nil {
		return err
	}
	cur, err := strconv.Atoi(cursor.S)
	if err != nil {
		return fmt.Errorf("invalid SCAN cursor %q: %w", cursor.S, err)
	}
	s.cur = cur
	s.keys = s.keys[:0]
	return (resp2.Any{I: &s.keys}).UnmarshalRESP(br)
}

// List can be used to page through the IDs of the snapshots that are stored in Redis by starting with offset 0 and
// then continuing to call the method with the updated cursor value it returns until it becomes 0. As with SCAN, the
// limit is a hint and pages can be shorter or longer
func (ra *RedisAdapter) List(offset, limit int, pattern string) ([]string, int, error) {
	client, err := ra.readClient()
	if err != nil {
		return nil, 0, err
	}
	var res scanResult
	args := []string{strconv.Itoa(offset), "MATCH", keyPrefix + pattern, "COUNT", strconv.Itoa(limit)}
	err = do(client, "listing snapshots", redis.Cmd(&res, "SCAN", args...))
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(res.keys))
	for _, key := range res.keys {
		ids = append(ids, strings.TrimPrefix(key, keyPrefix))
	}
	return ids, res.cur, nil
}

// Load retrieves a snapshot, a missing key is reported as (false, nil)
func (ra *RedisAdapter) Load(id string, np NetParams) (bool, error) {
	client, err := ra.readClient()
	if err != nil {
		return false, err
	}
	var value redis.MaybeNil
	var raw []byte
	value.Rcv = &raw
	err = do(client, "loading snapshot "+id, redis.Cmd(&value, "GET", keyPrefix+id))
	if err != nil || value.Nil {
		return false, err
	}
	return true, np.Unmarshal(raw)
}

// Save upserts a snapshot. Snapshots are written as a whole so readers never see a partially updated one
func (ra *RedisAdapter) Save(id string, np NetParams) error {
	value, err := np.Marshal()
	if err != nil {
		return err
	}
	client, err := ra.writeClient()
	if err != nil {
		return err
	}
	return do(client, "saving snapshot "+id, redis.Cmd(nil, "SET", keyPrefix+id, string(value)))
}
