package assets

import (
	"bytes"
	"fmt"

	"github.com/elfolz/robot/internal/animation"
	"github.com/qmuntal/gltf"
)

// Model summarizes a decoded glTF scene.
type Model struct {
	Name   string           `json:"name"`
	Nodes  int              `json:"nodes"`
	Meshes int              `json:"meshes"`
	Skins  int              `json:"skins"`
	Clips  []animation.Clip `json:"clips"`
}

// DecodeModel parses glTF or GLB bytes.
func DecodeModel(name string, data []byte) (*Model, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode gltf %s: %w", name, err)
	}
	return &Model{
		Name:   name,
		Nodes:  len(doc.Nodes),
		Meshes: len(doc.Meshes),
		Skins:  len(doc.Skins),
		Clips:  Clips(doc),
	}, nil
}

// Clips lists the document's animations. A clip lasts until the latest
// keyframe of any of its samplers.
func Clips(doc *gltf.Document) []animation.Clip {
	clips := make([]animation.Clip, 0, len(doc.Animations))
	for i, anim := range doc.Animations {
		var duration float64
		for _, s := range anim.Samplers {
			idx := int(s.Input)
			if idx < 0 || idx >= len(doc.Accessors) {
				continue
			}
			for _, v := range doc.Accessors[idx].Max {
				if float64(v) > duration {
					duration = float64(v)
				}
			}
		}
		name := anim.Name
		if name == "" {
			name = fmt.Sprintf("animation%d", i)
		}
		clips = append(clips, animation.Clip{Name: name, Duration: float32(duration)})
	}
	return clips
}
