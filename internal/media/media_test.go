package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/cadencebot/cadence/internal/bus"
	"github.com/cadencebot/cadence/internal/jobs"
	"github.com/cadencebot/cadence/internal/scene"
	"github.com/cadencebot/cadence/internal/store"
)

// gradient returns a 64x64 image with a left-to-right brightness ramp,
// optionally shifted to simulate recompression noise.
func gradient(shift uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(x*4) + shift
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func checkerboard() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(0)
			if (x/8+y/8)%2 == 0 {
				v = 255
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint(gradient(0))
	b := Fingerprint(gradient(2))
	if d := HammingDistance(a, b); d > 5 {
		t.Fatalf("near-identical images differ by %d bits", d)
	}

	c := Fingerprint(checkerboard())
	if d := HammingDistance(a, c); d < 10 {
		t.Fatalf("unrelated images differ by only %d bits", d)
	}
}

func TestFingerprintReader(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(0)); err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := FingerprintReader(&buf)
	if err != nil {
		t.Fatalf("fingerprint reader: %v", err)
	}
	if want := Fingerprint(gradient(0)); got != want {
		t.Fatalf("reader hash %x != direct hash %x", got, want)
	}

	if _, err := FingerprintReader(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Fatal("garbage input should not decode")
	}
}

func inbound(ref, stickerFlag string) bus.InboundMessage {
	m := bus.InboundMessage{
		ID:       "m1",
		Channel:  "telegram",
		Scene:    scene.NewKey(scene.KindGroup, "g1"),
		SenderID: "u1",
		Kind:     bus.MsgImage,
		ImageRef: ref,
	}
	if stickerFlag != "" {
		m.Metadata = map[string]string{"sticker": stickerFlag}
	}
	return m
}

func TestObserverEnqueuesNewImagesOnce(t *testing.T) {
	mem := store.NewMemoryStores()
	obs := NewObserver(jobs.NewQueue(mem), time.Minute, 100)
	ctx := context.Background()

	obs.Observe(ctx, inbound("file-a", ""))
	obs.Observe(ctx, inbound("file-a", "")) // duplicate, suppressed
	obs.Observe(ctx, inbound("file-b", "true"))
	obs.Observe(ctx, bus.InboundMessage{ID: "t", Kind: bus.MsgText, Content: "no image"})

	got, err := mem.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("%d jobs enqueued, want 2", len(got))
	}
	if got[0].ItemType != "image" || got[0].RefID != "file-a" {
		t.Fatalf("first job = %+v", got[0])
	}
	if got[1].ItemType != "sticker" || got[1].RefID != "file-b" {
		t.Fatalf("second job = %+v", got[1])
	}
}
