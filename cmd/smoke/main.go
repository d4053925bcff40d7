// Command smoke checks that the service's dependencies are reachable: Redis,
// one ArcGIS query and a Kafka round trip of a viewport event.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/hv-route-sync/internal/arcgis"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/config"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	"github.com/mohammed-shakir/hv-route-sync/internal/events"
	"github.com/mohammed-shakir/hv-route-sync/internal/resilience"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if err := client.Set(ctx, "hvsync:smoke", "ok", 30*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, err := client.Get(ctx, "hvsync:smoke").Result()
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	fmt.Println("redis GET hvsync:smoke:", val)
	return nil
}

// Brisbane, Web Mercator
var sampleExtent = model.Extent{XMin: 16990000, YMin: -3200000, XMax: 17010000, YMax: -3180000}

func testArcGIS(ctx context.Context, serviceURL string, layer int) error {
	fmt.Println("ArcGIS query test")
	u, err := arcgis.BuildQueryURL(arcgis.LayerEndpoint(serviceURL, layer), sampleExtent, "EPSG:3857")
	if err != nil {
		return fmt.Errorf("build query url: %w", err)
	}
	fmt.Println("GET", u)

	cc := resilience.DefaultClientConfig("smoke_arcgis")
	cc.MaxRetries = 1
	body, err := resilience.NewClient(cc).Get(ctx, u)
	if err != nil {
		return fmt.Errorf("arcgis get: %w", err)
	}
	fs, err := arcgis.DecodeFeatureSet(body)
	if err != nil {
		return fmt.Errorf("decode feature set: %w", err)
	}
	fc, err := fs.ToGeoJSON()
	if err != nil {
		return fmt.Errorf("convert features: %w", err)
	}
	fmt.Printf("arcgis returned %d features (%s)\n", len(fc.Features), fs.GeometryType)
	return nil
}

func testKafka(brokers []string, topic string) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := events.ViewportEvent{
		Version:    1,
		Client:     "smoke",
		Seq:        uint64(time.Now().UnixNano()),
		Extent:     []float64{sampleExtent.XMin, sampleExtent.YMin, sampleExtent.XMax, sampleExtent.YMax},
		Zoom:       11,
		Projection: "EPSG:3857",
		TS:         time.Now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	msgBytes, _ := json.Marshal(ev)
	partition, offset, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic, Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Println("produced one viewport event")

	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return fmt.Errorf("consume partition: %w", err)
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}
	return nil
}

func demoTiles() {
	fmt.Println("Tile demo")
	center := orb.Point{153.0251, -27.4698}
	for _, z := range []maptile.Zoom{8, 12} {
		t := maptile.At(center, z)
		fmt.Printf("z=%d tile=%d/%d bound=%v\n", z, t.X, t.Y, t.Bound())
	}
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	service := getenv("ARCGIS_SERVICE", config.QLDService)
	brokers := events.SplitBrokers(getenv("KAFKA_BROKERS", "localhost:9092"))
	topic := getenv("KAFKA_VIEWPORT_TOPIC", "map-viewport")

	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("Redis error:", err)
		return
	}
	if err := testArcGIS(ctx, strings.TrimSpace(service), 18); err != nil {
		fmt.Println("ArcGIS error:", err)
		return
	}
	if err := testKafka(brokers, topic); err != nil {
		fmt.Println("Kafka error:", err)
		return
	}
	demoTiles()
	fmt.Println("All checks completed")
}
