package safetensors

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
)

func f32Bytes(vals ...float32) []byte {
	out := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}

	return out
}

func TestWriteFile_RoundTripWithMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.safetensors")

	tensors := []Tensor{
		{Name: "dst", DType: DTypeU8, Shape: []int64{2, 2}, Data: []byte{40, 41, 42, 255}},
		{Name: "src", DType: DTypeF32, Shape: []int64{3}, Data: f32Bytes(1.5, -0.25, 3)},
	}
	meta := map[string]string{"dst.layout": "u8::ab"}

	if err := WriteFile(path, tensors, meta); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if got := strings.Join(store.Names(), "|"); got != "dst|src" {
		t.Fatalf("Names() = %q, want dst|src", got)
	}

	if store.Metadata()["dst.layout"] != "u8::ab" {
		t.Fatalf("Metadata() = %v", store.Metadata())
	}

	src, err := store.Tensor("src")
	if err != nil {
		t.Fatalf("Tensor(src): %v", err)
	}

	vals, err := src.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}

	if len(vals) != 3 || vals[0] != 1.5 || vals[1] != -0.25 || vals[2] != 3 {
		t.Fatalf("src = %v", vals)
	}

	dst, _ := store.Tensor("dst")
	if dst.DType != DTypeU8 || len(dst.Data) != 4 || dst.Data[3] != 255 {
		t.Fatalf("dst = %+v", dst)
	}
}

func TestEncode_ValidationErrors(t *testing.T) {
	if _, err := Encode(nil, nil); err == nil {
		t.Fatal("Encode(nil) should fail")
	}

	cases := map[string][]Tensor{
		"empty name":    {{Name: "", DType: DTypeU8, Shape: []int64{1}, Data: []byte{1}}},
		"metadata name": {{Name: metadataKey, DType: DTypeU8, Shape: []int64{1}, Data: []byte{1}}},
		"duplicate": {
			{Name: "x", DType: DTypeU8, Shape: []int64{1}, Data: []byte{1}},
			{Name: "x", DType: DTypeU8, Shape: []int64{1}, Data: []byte{2}},
		},
		"size mismatch": {{Name: "x", DType: DTypeF32, Shape: []int64{2}, Data: []byte{1, 2, 3, 4}}},
		"bad dtype":     {{Name: "x", DType: "F64", Shape: []int64{1}, Data: make([]byte, 8)}},
	}

	for name, tensors := range cases {
		if _, err := Encode(tensors, nil); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestOpenStoreFromBytes_Errors(t *testing.T) {
	if _, err := OpenStoreFromBytes([]byte{1, 2}); err == nil {
		t.Fatal("short payload should fail")
	}

	blob := make([]byte, 8)
	binary.LittleEndian.PutUint64(blob, 1000)

	if _, err := OpenStoreFromBytes(blob); err == nil {
		t.Fatal("oversized header length should fail")
	}

	good, err := Encode([]Tensor{{Name: "x", DType: DTypeI32, Shape: []int64{2}, Data: make([]byte, 8)}}, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	store, err := OpenStoreFromBytes(good[:len(good)-1])
	if err == nil {
		store.Close()
		t.Fatal("truncated data should fail")
	}
}

func TestFromBufferUsesLogicalOrder(t *testing.T) {
	shape := layout.MustShape(2, 3)

	// Column-major storage of [[1 2 3] [4 5 6]].
	b, err := memory.NewFrom(layout.MustDesc(shape, layout.S8, "ba"), []int8{1, 4, 2, 5, 3, -6})
	if err != nil {
		t.Fatalf("NewFrom: %v", err)
	}

	tensor, err := FromBuffer("w", b)
	if err != nil {
		t.Fatalf("FromBuffer: %v", err)
	}

	if tensor.DType != DTypeI8 {
		t.Fatalf("dtype = %s, want I8", tensor.DType)
	}

	vals, err := tensor.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}

	want := []float32{1, 2, 3, 4, 5, -6}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("vals = %v, want %v", vals, want)
		}
	}
}

func TestFromBufferRefusesPendingWrites(t *testing.T) {
	b, err := memory.New(layout.MustDesc(layout.MustShape(2), layout.F32, "a"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.Attach(memory.NewFence("relu"))

	if _, err := FromBuffer("x", b); err == nil {
		t.Fatal("expected ErrNotSynchronized")
	}
}
