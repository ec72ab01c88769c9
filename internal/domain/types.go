package domain

import "fmt"

// JobStatus tracks each pipeline stage for a single segmentation job.
type JobStatus string

const (
	JobStatusPreparing  JobStatus = "preparing"
	JobStatusExtracting JobStatus = "extracting"
	JobStatusClustering JobStatus = "clustering"
	JobStatusHarvesting JobStatus = "harvesting"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// AdjacencyOption selects how the face adjacency graph is built.
type AdjacencyOption int

const (
	AdjacencyNaive   AdjacencyOption = 0
	AdjacencyFaceMST AdjacencyOption = 1
	AdjacencyCCMST   AdjacencyOption = 2
)

// Params is the immutable submission-time configuration of one job.
type Params struct {
	IsPointCloud     bool            `json:"isPointCloud"`
	MaxClusters      int             `json:"maxClusters"`
	UseAgglomerative bool            `json:"useAgglomerative"`
	PreprocessMesh   bool            `json:"preprocessMesh"`
	Adjacency        AdjacencyOption `json:"adjacency"`
	AddKNNEdges      bool            `json:"addKnnEdges"`
	PointsPerFace    int             `json:"pointsPerFace"`
}

// DefaultParams returns the baseline parameter set presented by the UI.
func DefaultParams() Params {
	return Params{
		MaxClusters:      20,
		UseAgglomerative: true,
		Adjacency:        AdjacencyFaceMST,
		PointsPerFace:    1000,
	}
}

// Validate checks parameter ranges before any resource is allocated.
func (p Params) Validate() error {
	if p.MaxClusters < 2 || p.MaxClusters > 30 {
		return fmt.Errorf("max clusters must be in [2,30], got %d", p.MaxClusters)
	}
	if p.PointsPerFace < 100 || p.PointsPerFace > 2000 {
		return fmt.Errorf("points per face must be in [100,2000], got %d", p.PointsPerFace)
	}
	if p.Adjacency < AdjacencyNaive || p.Adjacency > AdjacencyCCMST {
		return fmt.Errorf("adjacency option must be 0, 1, or 2, got %d", p.Adjacency)
	}
	return nil
}

// Job stores one submission's identity, workspace paths, and lifecycle status.
type Job struct {
	ID            string    `json:"id"`
	Status        JobStatus `json:"status"`
	WorkspaceRoot string    `json:"workspaceRoot"`
	InputDir      string    `json:"inputDir"`
	OutputDir     string    `json:"outputDir"`
	InputFile     string    `json:"inputFile"`
	CreatedAt     int64     `json:"createdAt"`
	Params        Params    `json:"params"`
}

// ArtifactFormat is the closed set of produced file formats.
type ArtifactFormat string

const (
	FormatMesh   ArtifactFormat = "ply"
	FormatMeshUV ArtifactFormat = "obj"
)

// Artifact is one produced segmentation file at a specific part count.
type Artifact struct {
	Label     string         `json:"label"`
	Path      string         `json:"path"`
	Format    ArtifactFormat `json:"format"`
	PartCount int            `json:"partCount"`
}

// Severity classifies the terminal status of a finished job.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ResultSet is the normalized per-job outcome crossing the submission boundary.
type ResultSet struct {
	JobID     string     `json:"jobId"`
	Status    string     `json:"status"`
	Severity  Severity   `json:"severity"`
	Artifacts []Artifact `json:"artifacts"`
	PCAPath   string     `json:"pcaPath,omitempty"`
	Log       string     `json:"log"`
}

// DefaultArtifact returns the implied initial selection, the first entry.
func (r ResultSet) DefaultArtifact() (Artifact, bool) {
	if len(r.Artifacts) == 0 {
		return Artifact{}, false
	}
	return r.Artifacts[0], true
}

// Lookup resolves a user-facing label back to its artifact.
func (r ResultSet) Lookup(label string) (Artifact, bool) {
	for _, a := range r.Artifacts {
		if a.Label == label {
			return a, true
		}
	}
	return Artifact{}, false
}

// Settings contains operator-adjustable runtime configuration.
type Settings struct {
	PartFieldDir string `json:"partfieldDir" yaml:"partfield_dir"`
	PythonBin    string `json:"pythonBin" yaml:"python_bin"`
	Checkpoint   string `json:"checkpoint" yaml:"checkpoint"`
	ConfigFile   string `json:"configFile" yaml:"config_file"`
	ExpiryHours  int    `json:"expiryHours" yaml:"expiry_hours"`
}
