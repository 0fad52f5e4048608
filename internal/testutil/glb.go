package testutil

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sort"
	"testing"
)

// BuildGLB returns a binary glTF holding one node and an animation per
// entry of clips, each lasting the given seconds. Accessors carry min/max
// only and no buffer data.
func BuildGLB(t *testing.T, clips map[string]float64) []byte {
	t.Helper()

	names := make([]string, 0, len(clips))
	for name := range clips {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		accessors  []map[string]interface{}
		animations []map[string]interface{}
	)
	for _, name := range names {
		input := len(accessors)
		accessors = append(accessors,
			map[string]interface{}{"componentType": 5126, "count": 2, "type": "SCALAR", "min": []float64{0}, "max": []float64{clips[name]}},
			map[string]interface{}{"componentType": 5126, "count": 2, "type": "VEC3", "min": []float64{0, 0, 0}, "max": []float64{0, 1, 0}},
		)
		animations = append(animations, map[string]interface{}{
			"name":     name,
			"samplers": []map[string]interface{}{{"input": input, "output": input + 1, "interpolation": "LINEAR"}},
			"channels": []map[string]interface{}{{"sampler": 0, "target": map[string]interface{}{"node": 0, "path": "translation"}}},
		})
	}

	doc := map[string]interface{}{
		"asset":  map[string]interface{}{"version": "2.0", "generator": "robot-testutil"},
		"scene":  0,
		"scenes": []map[string]interface{}{{"nodes": []int{0}}},
		"nodes":  []map[string]interface{}{{"name": "robot"}},
	}
	if len(animations) > 0 {
		doc["accessors"] = accessors
		doc["animations"] = animations
	}

	js, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal gltf: %v", err)
	}
	for len(js)%4 != 0 {
		js = append(js, ' ')
	}

	var buf bytes.Buffer
	buf.WriteString("glTF")
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	binary.Write(&buf, binary.LittleEndian, uint32(12+8+len(js)))
	binary.Write(&buf, binary.LittleEndian, uint32(len(js)))
	buf.WriteString("JSON")
	buf.Write(js)
	return buf.Bytes()
}
