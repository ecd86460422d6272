// Package persistence 는 콘텐츠 저장소, 변경 집합 레코드, 클록 카운터가
// 사용하는 영속 키-값 저장소를 제공합니다.
package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

var _ ds.Datastore = (*RedisDatastore)(nil)
var _ ds.Batching = (*RedisDatastore)(nil)

// Options Redis 데이터스토어 옵션
type Options struct {
	// TTL이 0이면 만료되지 않습니다. CAS 블록은 즉시 삭제되면 안 되므로 기본값은 0입니다.
	TTL time.Duration
	// Namespace는 모든 키 앞에 붙는 접두사입니다.
	Namespace string
}

// DefaultOptions 기본 옵션 반환
func DefaultOptions() *Options {
	return &Options{
		TTL:       0,
		Namespace: "wsgraph",
	}
}

// RedisDatastore Redis 기반 데이터스토어
type RedisDatastore struct {
	client    *redis.Client
	ttl       time.Duration
	namespace string
}

// NewRedisDatastore 새 Redis 데이터스토어 생성
func NewRedisDatastore(client *redis.Client, opts *Options) (*RedisDatastore, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}

	if opts == nil {
		opts = DefaultOptions()
	}

	return &RedisDatastore{
		client:    client,
		ttl:       opts.TTL,
		namespace: strings.TrimSuffix(opts.Namespace, ":"),
	}, nil
}

func (rd *RedisDatastore) redisKey(key ds.Key) string {
	if rd.namespace == "" {
		return key.String()
	}
	return rd.namespace + ":" + key.String()
}

func (rd *RedisDatastore) dsKey(redisKey string) string {
	if rd.namespace == "" {
		return redisKey
	}
	return strings.TrimPrefix(redisKey, rd.namespace+":")
}

// Put 데이터 저장
func (rd *RedisDatastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	return rd.client.Set(ctx, rd.redisKey(key), value, rd.ttl).Err()
}

// Get 데이터 조회
func (rd *RedisDatastore) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	data, err := rd.client.Get(ctx, rd.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ds.ErrNotFound
	}
	return data, err
}

// GetMany는 MGET 한 번으로 여러 키를 조회합니다. 없는 키는 결과에서 빠집니다.
// cas.Store.ReadMany가 블록 일괄 조회에 사용합니다.
func (rd *RedisDatastore) GetMany(ctx context.Context, keys []ds.Key) (map[ds.Key][]byte, error) {
	if len(keys) == 0 {
		return map[ds.Key][]byte{}, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = rd.redisKey(k)
	}

	values, err := rd.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[ds.Key][]byte, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// Has 키 존재 여부 확인
func (rd *RedisDatastore) Has(ctx context.Context, key ds.Key) (bool, error) {
	val, err := rd.client.Exists(ctx, rd.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return val > 0, nil
}

// GetSize 데이터 크기 조회
func (rd *RedisDatastore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	exists, err := rd.Has(ctx, key)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ds.ErrNotFound
	}

	size, err := rd.client.StrLen(ctx, rd.redisKey(key)).Result()
	if err != nil {
		return 0, err
	}
	return int(size), nil
}

// Delete 데이터 삭제
func (rd *RedisDatastore) Delete(ctx context.Context, key ds.Key) error {
	return rd.client.Del(ctx, rd.redisKey(key)).Err()
}

// Query 데이터 쿼리
func (rd *RedisDatastore) Query(ctx context.Context, q dsq.Query) (dsq.Results, error) {
	// 패턴 생성
	pattern := rd.redisKey(ds.NewKey(q.Prefix)) + "*"
	if q.Prefix == "" || q.Prefix == "/" {
		pattern = rd.redisKey(ds.NewKey("/")) + "*"
	}

	// 키 스캔
	var keys []string
	var cursor uint64
	for {
		scanKeys, next, err := rd.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, scanKeys...)
		if next == 0 {
			break
		}
		cursor = next
	}

	// 결과 생성
	entries := make([]dsq.Entry, 0, len(keys))
	for _, key := range keys {
		entry := dsq.Entry{Key: rd.dsKey(key)}
		if !q.KeysOnly {
			value, err := rd.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, err
			}
			entry.Value = value
			entry.Size = len(value)
		}
		entries = append(entries, entry)
	}

	// 접두사, 필터, 정렬, offset, limit은 go-datastore의 naive 구현에 맡깁니다.
	return dsq.NaiveQueryApply(q, dsq.ResultsWithEntries(q, entries)), nil
}

// Batch 배치 작업 생성
func (rd *RedisDatastore) Batch(ctx context.Context) (ds.Batch, error) {
	return &redisBatch{
		ds:       rd,
		pipeline: rd.client.Pipeline(),
	}, nil
}

// Close 데이터스토어 종료
func (rd *RedisDatastore) Close() error {
	return rd.client.Close()
}

// Sync 동기화 (Redis는 필요 없음)
func (rd *RedisDatastore) Sync(ctx context.Context, prefix ds.Key) error {
	return nil
}

// redisBatch Redis 배치 작업
type redisBatch struct {
	ds       *RedisDatastore
	pipeline redis.Pipeliner
	size     int
}

// Put 배치에 데이터 추가
func (rb *redisBatch) Put(ctx context.Context, key ds.Key, value []byte) error {
	rb.pipeline.Set(ctx, rb.ds.redisKey(key), value, rb.ds.ttl)
	rb.size++
	return nil
}

// Delete 배치에서 데이터 삭제
func (rb *redisBatch) Delete(ctx context.Context, key ds.Key) error {
	rb.pipeline.Del(ctx, rb.ds.redisKey(key))
	rb.size++
	return nil
}

// Commit 배치 작업 커밋
func (rb *redisBatch) Commit(ctx context.Context) error {
	if rb.size == 0 {
		return nil
	}

	_, err := rb.pipeline.Exec(ctx)
	return err
}
