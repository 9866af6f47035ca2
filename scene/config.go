package scene

import (
	"fmt"

	"gopkg.in/gcfg.v1"
)

// ExampleFile is a commented scene file: a dam break against a post.
const ExampleFile = `[Scene]
# Seed for particle jitter. Runs with the same seed are identical.
Seed = 1
# Fraction of the particle spacing each lattice point is jittered by.
Jitter = 0.5
# Also seed solid particles inside solid shapes.
# SolidParticles = true

# Shapes are given in normalized domain coordinates: the longest axis of the
# grid spans [0, 1]. Boxes are a lower corner plus widths.
[LiquidBox "column"]
X = 0.05
Y = 0.05
Z = 0.05
XWidth = 0.35
YWidth = 0.6
ZWidth = 0.9

[LiquidBall "drop"]
X = 0.7
Y = 0.75
Z = 0.5
Radius = 0.1

[SolidBox "post"]
X = 0.55
Y = 0
Z = 0.45
XWidth = 0.1
YWidth = 0.4
ZWidth = 0.1

# Meshes are closed OBJ files, scaled then offset.
# [SolidMesh "rock"]
# Path = rock.obj
# Scale = 0.2
# X = 0.3
# Y = 0
# Z = 0.3`

// File is the parsed content of a scene file.
type File struct {
	Scene      Config
	LiquidBox  map[string]*BoxConfig
	SolidBox   map[string]*BoxConfig
	LiquidBall map[string]*BallConfig
	SolidBall  map[string]*BallConfig
	LiquidMesh map[string]*MeshConfig
	SolidMesh  map[string]*MeshConfig
}

// Config holds the [Scene] section.
type Config struct {
	// Optional
	Seed           int64
	Jitter         float64
	SolidParticles bool
}

// BoxConfig is an axis-aligned box.
type BoxConfig struct {
	// Required
	X, Y, Z                float64
	XWidth, YWidth, ZWidth float64
}

// CheckInit validates the box.
func (box *BoxConfig) CheckInit(name string) error {
	if box.XWidth <= 0 || box.YWidth <= 0 || box.ZWidth <= 0 {
		return fmt.Errorf(
			"Box '%s' needs positive widths, but has (%g, %g, %g).",
			name, box.XWidth, box.YWidth, box.ZWidth,
		)
	}
	return nil
}

// BallConfig is a sphere.
type BallConfig struct {
	// Required
	X, Y, Z, Radius float64
}

// CheckInit validates the ball.
func (ball *BallConfig) CheckInit(name string) error {
	if ball.Radius <= 0 {
		return fmt.Errorf(
			"Need to specify a positive radius for Ball '%s'.", name,
		)
	}
	return nil
}

// MeshConfig is a closed OBJ mesh placed in the domain.
type MeshConfig struct {
	// Required
	Path string

	// Optional
	Scale   float64
	X, Y, Z float64
}

// CheckInit validates the mesh section and fills defaults.
func (m *MeshConfig) CheckInit(name string) error {
	if m.Path == "" {
		return fmt.Errorf("Mesh '%s' has no Path.", name)
	}
	if m.Scale == 0 {
		m.Scale = 1
	} else if m.Scale < 0 {
		return fmt.Errorf("Mesh '%s' given a negative scale, %g.", name, m.Scale)
	}
	return nil
}

// defaultFile returns a File with optional values filled in.
func defaultFile() *File {
	return &File{Scene: Config{Seed: 1, Jitter: 0.5}}
}

// Parse reads a scene from the text of a scene file.
func Parse(text string) (*File, error) {
	f := defaultFile()
	if err := gcfg.ReadStringInto(f, text); err != nil {
		return nil, fmt.Errorf("parsing scene: %w", err)
	}
	if err := f.CheckInit(); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads a scene file from disk.
func Load(path string) (*File, error) {
	f := defaultFile()
	if err := gcfg.ReadFileInto(f, path); err != nil {
		return nil, fmt.Errorf("reading scene %s: %w", path, err)
	}
	if err := f.CheckInit(); err != nil {
		return nil, err
	}
	return f, nil
}

// CheckInit validates every section.
func (f *File) CheckInit() error {
	if f.Scene.Jitter < 0 || f.Scene.Jitter > 1 {
		return fmt.Errorf("Scene Jitter must be in [0, 1], but is %g.", f.Scene.Jitter)
	}
	for _, boxes := range []map[string]*BoxConfig{f.LiquidBox, f.SolidBox} {
		for name, box := range boxes {
			if err := box.CheckInit(name); err != nil {
				return err
			}
		}
	}
	for _, balls := range []map[string]*BallConfig{f.LiquidBall, f.SolidBall} {
		for name, ball := range balls {
			if err := ball.CheckInit(name); err != nil {
				return err
			}
		}
	}
	for _, meshes := range []map[string]*MeshConfig{f.LiquidMesh, f.SolidMesh} {
		for name, m := range meshes {
			if err := m.CheckInit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
