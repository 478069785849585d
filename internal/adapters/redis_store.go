package adapters

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/redis/go-redis/v9"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/types"
)

const redisKeyPrefix = "compliance-gate"

const (
	redisFieldFolder   = "folder"
	redisFieldModified = "modified"
)

// RedisPropertyStore keeps one property hash and one meta hash per item,
// plus a set of item paths per repository.
type RedisPropertyStore struct {
	Client *redis.Client
	Now    func() time.Time
}

var _ ports.PropertyStore = (*RedisPropertyStore)(nil)
var _ ports.ItemIndexPort = (*RedisPropertyStore)(nil)

func NewRedisPropertyStore(ctx context.Context, addr string, password string, db int) (*RedisPropertyStore, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, redisError("ping", err)
	}
	return &RedisPropertyStore{Client: client, Now: time.Now}, nil
}

func (s *RedisPropertyStore) Close() error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

func redisItemsKey(repoKey string) string {
	return redisKeyPrefix + ":items:" + repoKey
}

func redisPropsKey(ref types.ArtifactRef) string {
	return redisKeyPrefix + ":props:" + ref.RepoKey + ":" + ref.Path
}

func redisMetaKey(ref types.ArtifactRef) string {
	return redisKeyPrefix + ":meta:" + ref.RepoKey + ":" + ref.Path
}

func (s *RedisPropertyStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RedisPropertyStore) GetProperty(ctx context.Context, ref types.ArtifactRef, key string) (string, bool, error) {
	value, err := s.Client.HGet(ctx, redisPropsKey(ref), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, redisError("get property", err)
	}
	return value, true, nil
}

func (s *RedisPropertyStore) SetProperty(ctx context.Context, ref types.ArtifactRef, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("property key is empty")
	}
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisItemsKey(ref.RepoKey), ref.Path)
		pipe.HSetNX(ctx, redisMetaKey(ref), redisFieldFolder, strconv.FormatBool(ref.IsRepoRoot()))
		pipe.HSetNX(ctx, redisMetaKey(ref), redisFieldModified, s.now().Format(time.RFC3339Nano))
		pipe.HSet(ctx, redisPropsKey(ref), key, value)
		return nil
	})
	if err != nil {
		return redisError("set property", err)
	}
	return nil
}

func (s *RedisPropertyStore) DeleteProperty(ctx context.Context, ref types.ArtifactRef, key string) error {
	if err := s.Client.HDel(ctx, redisPropsKey(ref), key).Err(); err != nil {
		return redisError("delete property", err)
	}
	return nil
}

func (s *RedisPropertyStore) FindByPropertyValues(ctx context.Context, repoKey string, values map[string]string) ([]types.ArtifactRef, error) {
	paths, err := s.Client.SMembers(ctx, redisItemsKey(repoKey)).Result()
	if err != nil {
		return nil, redisError("list items", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(paths))
	if _, err := s.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, itemPath := range paths {
			cmds[i] = pipe.HGetAll(ctx, redisPropsKey(types.ArtifactRef{RepoKey: repoKey, Path: itemPath}))
		}
		return nil
	}); err != nil {
		return nil, redisError("read properties", err)
	}
	var refs []types.ArtifactRef
	for i, cmd := range cmds {
		if propertiesMatch(cmd.Val(), values) {
			refs = append(refs, types.ArtifactRef{RepoKey: repoKey, Path: paths[i]})
		}
	}
	sortRefs(refs)
	return refs, nil
}

func (s *RedisPropertyStore) FindByNamePattern(ctx context.Context, repoKey string, pattern string) ([]types.ArtifactRef, error) {
	compiled, err := compileNamePattern(pattern)
	if err != nil {
		return nil, err
	}
	paths, err := s.Client.SMembers(ctx, redisItemsKey(repoKey)).Result()
	if err != nil {
		return nil, redisError("list items", err)
	}
	var refs []types.ArtifactRef
	for _, itemPath := range paths {
		ref := types.ArtifactRef{RepoKey: repoKey, Path: itemPath}
		if ref.IsRepoRoot() || !compiled.Match(ref.Name()) {
			continue
		}
		folder, err := s.IsFolder(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !folder {
			refs = append(refs, ref)
		}
	}
	sortRefs(refs)
	return refs, nil
}

func (s *RedisPropertyStore) LastModified(ctx context.Context, ref types.ArtifactRef) (time.Time, error) {
	raw, err := s.Client.HGet(ctx, redisMetaKey(ref), redisFieldModified).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, itemNotFound(ref)
	}
	if err != nil {
		return time.Time{}, redisError("last modified", err)
	}
	modified, ok := parseRemoteTime(raw)
	if !ok {
		return time.Time{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("invalid last modified value for " + ref.String())
	}
	return modified, nil
}

func (s *RedisPropertyStore) IsFolder(ctx context.Context, ref types.ArtifactRef) (bool, error) {
	raw, err := s.Client.HGet(ctx, redisMetaKey(ref), redisFieldFolder).Result()
	if errors.Is(err, redis.Nil) {
		return ref.IsRepoRoot(), nil
	}
	if err != nil {
		return false, redisError("is folder", err)
	}
	folder, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("invalid folder flag for " + ref.String()).
			WithCause(err)
	}
	return folder, nil
}

func (s *RedisPropertyStore) PutItem(ctx context.Context, item types.ItemInfo) error {
	modified := item.LastModified
	if modified.IsZero() {
		modified = s.now()
	}
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisItemsKey(item.Ref.RepoKey), item.Ref.Path)
		pipe.HSet(ctx, redisMetaKey(item.Ref),
			redisFieldFolder, strconv.FormatBool(item.Folder),
			redisFieldModified, modified.UTC().Format(time.RFC3339Nano),
		)
		return nil
	})
	if err != nil {
		return redisError("put item", err)
	}
	return nil
}

func (s *RedisPropertyStore) CopyItem(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef) error {
	return s.transfer(ctx, from, to, false)
}

func (s *RedisPropertyStore) MoveItem(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef) error {
	return s.transfer(ctx, from, to, true)
}

func (s *RedisPropertyStore) transfer(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef, move bool) error {
	meta, err := s.Client.HGetAll(ctx, redisMetaKey(from)).Result()
	if err != nil {
		return redisError("read item", err)
	}
	if len(meta) == 0 {
		return itemNotFound(from)
	}
	props, err := s.Client.HGetAll(ctx, redisPropsKey(from)).Result()
	if err != nil {
		return redisError("read properties", err)
	}
	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisItemsKey(to.RepoKey), to.Path)
		pipe.Del(ctx, redisPropsKey(to))
		pipe.HSet(ctx, redisMetaKey(to),
			redisFieldFolder, meta[redisFieldFolder],
			redisFieldModified, s.now().Format(time.RFC3339Nano),
		)
		if len(props) > 0 {
			fields := make(map[string]interface{}, len(props))
			for key, value := range props {
				fields[key] = value
			}
			pipe.HSet(ctx, redisPropsKey(to), fields)
		}
		if move {
			pipe.SRem(ctx, redisItemsKey(from.RepoKey), from.Path)
			pipe.Del(ctx, redisMetaKey(from), redisPropsKey(from))
		}
		return nil
	})
	if err != nil {
		return redisError("transfer item", err)
	}
	return nil
}

func redisError(action string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("redis " + action + " failed").
		WithCause(err)
}
