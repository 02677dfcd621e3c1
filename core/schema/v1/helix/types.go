package helix

const SchemaVersion = "1.0.0"

const (
	SchemaEpoch       = "hashhelix.epoch"
	SchemaEpochBundle = "hashhelix.epoch_bundle"
	SchemaRelic       = "hashhelix.relic"
	SchemaCheckpoint  = "hashhelix.ledger_checkpoint"
	SchemaManifest    = "hashhelix.manifest"
)

const BundleTypeEpoch = "epoch_bundle"

// LedgerRecord is one line of a single-strand ledger. TS never enters a hash.
type LedgerRecord struct {
	N     int64   `json:"n"`
	TS    float64 `json:"ts"`
	A     int64   `json:"a"`
	Data  string  `json:"data"`
	HPrev string  `json:"h_prev"`
	H     string  `json:"h"`
}

// ChiralRecord is one line of a dual-strand ledger.
type ChiralRecord struct {
	N          int64   `json:"n"`
	TS         float64 `json:"ts"`
	Data       string  `json:"data"`
	APlus      int64   `json:"a_plus"`
	AMinus     int64   `json:"a_minus"`
	HPlusPrev  string  `json:"h_plus_prev"`
	HMinusPrev string  `json:"h_minus_prev"`
	HPlus      string  `json:"h_plus"`
	HMinus     string  `json:"h_minus"`
	Commit     string  `json:"commit"`
}

type Epoch struct {
	SchemaID      string     `json:"schema_id"`
	SchemaVersion string     `json:"schema_version"`
	EpochID       string     `json:"epoch_id"`
	LaneID        int        `json:"lane_id"`
	EpochIndex    int        `json:"epoch_index"`
	StartStep     int64      `json:"start_step"`
	EndStep       int64      `json:"end_step"`
	StepCount     int64      `json:"step_count"`
	MerkleRoot    string     `json:"merkle_root"`
	SequenceHash  string     `json:"sequence_hash"`
	Stats         EpochStats `json:"stats"`
}

type EpochStats struct {
	Min  int64   `json:"min"`
	Max  int64   `json:"max"`
	Mean float64 `json:"mean"`
}

type EpochBundle struct {
	SchemaID      string       `json:"schema_id"`
	SchemaVersion string       `json:"schema_version"`
	BundleID      string       `json:"bundle_id"`
	BundleType    string       `json:"bundle_type"`
	EpochIndex    int          `json:"epoch_index"`
	LaneCount     int          `json:"lane_count"`
	Lanes         []BundleLane `json:"lanes"`
}

type BundleLane struct {
	LaneID       int    `json:"lane_id"`
	EpochID      string `json:"epoch_id"`
	MerkleRoot   string `json:"merkle_root"`
	SequenceHash string `json:"sequence_hash"`
}

type Relic struct {
	SchemaID      string         `json:"schema_id"`
	SchemaVersion string         `json:"schema_version"`
	RelicID       string         `json:"relic_id"`
	RelicIndex    int            `json:"relic_index"`
	EpochStart    int            `json:"epoch_start"`
	EpochEnd      int            `json:"epoch_end"`
	EpochCount    int            `json:"epoch_count"`
	LaneCount     int            `json:"lane_count"`
	EpochBundles  []RelicBundle  `json:"epoch_bundles"`
	Aggregate     RelicAggregate `json:"aggregate"`
}

type RelicBundle struct {
	EpochIndex       int      `json:"epoch_index"`
	BundleID         string   `json:"bundle_id"`
	LaneCount        int      `json:"lane_count"`
	LaneMerkleRoots  []string `json:"lane_merkle_roots"`
	BundleMerkleRoot string   `json:"bundle_merkle_root"`
}

type RelicAggregate struct {
	RelicMerkleRoot  string     `json:"relic_merkle_root"`
	ChiralCommitment ChiralPair `json:"chiral_commitment"`
	BundleIDs        []string   `json:"bundle_ids"`
}

// ChiralPair is order-sensitive: Reverse is computed over the reversed id list.
type ChiralPair struct {
	Forward string `json:"forward"`
	Reverse string `json:"reverse"`
}

// Checkpoint pins ledger head state. For single-strand ledgers only Plus is set.
type Checkpoint struct {
	SchemaID             string       `json:"schema_id"`
	SchemaVersion        string       `json:"schema_version"`
	Index                int          `json:"index"`
	Variant              string       `json:"variant"`
	N                    int64        `json:"n"`
	Plus                 StrandState  `json:"plus"`
	Minus                *StrandState `json:"minus,omitempty"`
	Commit               string       `json:"commit,omitempty"`
	SegmentStart         int64        `json:"segment_start"`
	SegmentEnd           int64        `json:"segment_end"`
	SegmentRoot          string       `json:"segment_root"`
	PrevCheckpointDigest string       `json:"prev_checkpoint_digest,omitempty"`
	CheckpointDigest     string       `json:"checkpoint_digest,omitempty"`
}

type StrandState struct {
	Value int64  `json:"value"`
	Hash  string `json:"hash"`
}

type Manifest struct {
	SchemaID       string         `json:"schema_id"`
	SchemaVersion  string         `json:"schema_version"`
	Files          []ManifestFile `json:"files"`
	CombinedDigest string         `json:"combined_digest"`
}

type ManifestFile struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
	JCSSHA256 string `json:"jcs_sha256,omitempty"`
}
