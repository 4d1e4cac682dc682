package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/Aman-CERP/docsearch/internal/query"
)

// RedisVectorConfig holds connection and index parameters for RedisVectorStore.
type RedisVectorConfig struct {
	Addrs      []string `yaml:"addrs"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	DB         int      `yaml:"db"`
	Index      string   `yaml:"index"`
	KeyPrefix  string   `yaml:"key_prefix"`
	Dimensions int      `yaml:"dimensions"`
}

// RedisVectorStore implements VectorStore on a Redis 8 / Valkey search index.
// Fragments are stored as hashes with a FLOAT32 COSINE vector field and a
// file_type TAG field.
type RedisVectorStore struct {
	client rueidis.Client
	cfg    RedisVectorConfig
}

// NewRedisVectorStore connects to Redis.
func NewRedisVectorStore(cfg RedisVectorConfig) (*RedisVectorStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.Index == "" {
		cfg.Index = "docsearch_fragments"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "frag:"
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH parsing expects RESP2 arrays
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &RedisVectorStore{client: client, cfg: cfg}, nil
}

// Ping checks connectivity.
func (s *RedisVectorStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// EnsureIndex creates the search index if it does not exist.
func (s *RedisVectorStore) EnsureIndex(ctx context.Context) error {
	if s.cfg.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	cmd := s.client.B().Arbitrary("FT.CREATE").Args(createIndexArgs(s.cfg)...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("create index %s: %w", s.cfg.Index, err)
	}
	return nil
}

func createIndexArgs(cfg RedisVectorConfig) []string {
	return []string{
		cfg.Index, "ON", "HASH",
		"PREFIX", "1", cfg.KeyPrefix,
		"SCHEMA",
		"file_type", "TAG",
		"vector", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(cfg.Dimensions),
		"DISTANCE_METRIC", "COSINE",
	}
}

// Add stores vectors in a single DoMulti round-trip.
func (s *RedisVectorStore) Add(ctx context.Context, items []VectorItem) error {
	if len(items) == 0 {
		return nil
	}
	cmds := make(rueidis.Commands, 0, len(items))
	for _, item := range items {
		if s.cfg.Dimensions > 0 && len(item.Vector) != s.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(item.Vector)}
		}
		cmds = append(cmds, s.client.B().Hset().Key(s.cfg.KeyPrefix+item.ID).FieldValue().
			FieldValue("id", item.ID).
			FieldValue("file_type", query.NormalizeFileType(item.FileType)).
			FieldValue("vector", vectorToBytes(item.Vector)).
			Build())
	}
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("hset %s: %w", items[i].ID, err)
		}
	}
	return nil
}

// Search runs FT.SEARCH KNN, prefiltered by file type.
func (s *RedisVectorStore) Search(ctx context.Context, vec []float32, k int, fileTypes []string) ([]*VectorResult, error) {
	if k <= 0 {
		return []*VectorResult{}, nil
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(knnArgs(s.cfg.Index, vec, k, fileTypes)...).Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("ft.search %s: %w", s.cfg.Index, err)
	}
	return parseKNN(raw, s.cfg.KeyPrefix)
}

func knnArgs(index string, vec []float32, k int, fileTypes []string) []string {
	knn := fmt.Sprintf("[KNN %d @vector $BLOB]", k)
	queryStr := "*=>" + knn
	if filter := fileTypeFilter(fileTypes); filter != "" {
		queryStr = fmt.Sprintf("(%s)=>%s", filter, knn)
	}
	return []string{
		index, queryStr,
		"RETURN", "2", "id", "__vector_score",
		"LIMIT", "0", strconv.Itoa(k),
		"PARAMS", "2", "BLOB", vectorToBytes(vec),
		"DIALECT", "2",
	}
}

func fileTypeFilter(fileTypes []string) string {
	tags := make([]string, 0, len(fileTypes))
	for _, ft := range fileTypes {
		if ft = query.NormalizeFileType(ft); ft != "" {
			tags = append(tags, tagEscaper.Replace(ft))
		}
	}
	if len(tags) == 0 {
		return ""
	}
	return "@file_type:{" + strings.Join(tags, "|") + "}"
}

// parseKNN reads [total, key1, fields1, key2, fields2, ...].
func parseKNN(raw []rueidis.RedisMessage, prefix string) ([]*VectorResult, error) {
	if len(raw) == 0 {
		return []*VectorResult{}, nil
	}
	if _, err := raw[0].AsInt64(); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}

	results := make([]*VectorResult, 0, (len(raw)-1)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		values := make(map[string]string, len(fields)/2)
		for j := 0; j+1 < len(fields); j += 2 {
			k, kerr := fields[j].ToString()
			v, verr := fields[j+1].ToString()
			if kerr == nil && verr == nil {
				values[k] = v
			}
		}

		id := values["id"]
		if id == "" {
			id = strings.TrimPrefix(key, prefix)
		}
		d, err := strconv.ParseFloat(values["__vector_score"], 64)
		if err != nil {
			continue
		}
		results = append(results, &VectorResult{
			ID:       id,
			Distance: float32(d),
			Score:    float32(max(0, min(1, 1.0-d))),
		})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Distance < results[b].Distance })
	return results, nil
}

// Delete removes fragment hashes.
func (s *RedisVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.cfg.KeyPrefix + id
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *RedisVectorStore) Close() error {
	s.client.Close()
	return nil
}

var _ VectorStore = (*RedisVectorStore)(nil)

func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

var tagEscaper = strings.NewReplacer(
	",", "\\,", ".", "\\.", "<", "\\<", ">", "\\>", "{", "\\{", "}", "\\}",
	"[", "\\[", "]", "\\]", "\"", "\\\"", "'", "\\'", ":", "\\:", ";", "\\;",
	"!", "\\!", "@", "\\@", "#", "\\#", "$", "\\$", "%", "\\%", "^", "\\^",
	"&", "\\&", "*", "\\*", "(", "\\(", ")", "\\)", "-", "\\-", "+", "\\+",
	"=", "\\=", "~", "\\~", "|", "\\|", " ", "\\ ",
)
