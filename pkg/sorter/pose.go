package sorter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Pose is the last commanded position of each axis, in degrees.
type Pose struct {
	Sorter int `yaml:"sorter"`
	Gate   int `yaml:"gate"`
}

// LoadPose reads a pose file.  A missing file is reported as ok == false
// with no error.
func LoadPose(path string) (pose Pose, ok bool, err error) {
	if path == "" {
		return Pose{}, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Pose{}, false, nil
	}
	if err != nil {
		return Pose{}, false, err
	}
	if err := yaml.Unmarshal(data, &pose); err != nil {
		return Pose{}, false, fmt.Errorf("parse pose file %s: %w", path, err)
	}
	return pose, true, nil
}

// SavePose replaces the pose file atomically.
func SavePose(path string, pose Pose) error {
	data, err := yaml.Marshal(pose)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pose-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
