package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trike-dispatch/internal/models"
)

// RedisIndex implements Index on Redis GEO commands, with a meta hash
// per driver for the fields GEO cannot hold.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(d models.Driver) {
	// store as GEOADD and HSET for metadata
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(d.ID), map[string]interface{}{
		"name":    d.Name,
		"plate":   d.Plate,
		"rating":  fmt.Sprintf("%f", d.Rating),
		"online":  strconv.FormatBool(d.Online),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) Remove(id string) {
	_ = r.client.ZRem(r.ctx, r.key, id).Err()
	_ = r.client.Del(r.ctx, metaKey(id)).Err()
}

func (r *RedisIndex) Get(id string) (models.Driver, bool) {
	pos, err := r.client.GeoPos(r.ctx, r.key, id).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return models.Driver{}, false
	}
	d := models.Driver{ID: id}
	d.Loc.Lat = pos[0].Latitude
	d.Loc.Lon = pos[0].Longitude
	r.fillMeta(&d)
	return d, true
}

func (r *RedisIndex) ListOnline() []models.Driver {
	ids, err := r.client.ZRange(r.ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Driver, 0, len(ids))
	for _, id := range ids {
		d, ok := r.Get(id)
		if !ok || !d.Online {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *RedisIndex) Nearby(lat, lon float64, limit int) []models.Driver {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{Radius: 5000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		d := models.Driver{ID: g.Name}
		d.Loc.Lat = g.Latitude
		d.Loc.Lon = g.Longitude
		r.fillMeta(&d)
		if !d.Online {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *RedisIndex) fillMeta(d *models.Driver) {
	m, err := r.client.HGetAll(r.ctx, metaKey(d.ID)).Result()
	if err != nil {
		return
	}
	d.Name = m["name"]
	d.Plate = m["plate"]
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Rating = f
		}
	}
	if v, ok := m["online"]; ok {
		d.Online = (v == "true")
	}
	if v, ok := m["updated"]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			d.Updated = ts
		}
	}
}

func metaKey(id string) string { return "driver:meta:" + id }
