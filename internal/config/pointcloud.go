package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// PointCloud is the metadata sidecar referenced by POINT_CLOUD_PATH: the
// fixed global point cloud's known total cardinality N, plus a human
// label, loaded via gopkg.in/yaml.v3.
type PointCloud struct {
	Label        string `yaml:"label"`
	TotalPoints  uint32 `yaml:"total_points"`
}

func LoadPointCloud(path string) (PointCloud, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PointCloud{}, err
	}
	var pc PointCloud
	if err := yaml.Unmarshal(b, &pc); err != nil {
		return PointCloud{}, err
	}
	return pc, nil
}
