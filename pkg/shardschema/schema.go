// Package shardschema defines the frozen row types for the four core
// shard relations and the optional ext/ extension tables (§3, §4.5).
package shardschema

// Entity is one row of graph/entities.parquet.
type Entity struct {
	EntityID   string `parquet:"entity_id"`
	Namespace  string `parquet:"namespace"`
	Label      string `parquet:"label"`
	EntityType string `parquet:"entity_type"`
}

// Claim is one row of graph/claims.parquet.
type Claim struct {
	ClaimID    string `parquet:"claim_id"`
	Subject    string `parquet:"subject"`
	Predicate  string `parquet:"predicate"`
	Object     string `parquet:"object"`
	ObjectType string `parquet:"object_type"`
	Tier       int8   `parquet:"tier"`
}

// Provenance is one row of graph/provenance.parquet.
type Provenance struct {
	ProvenanceID string `parquet:"provenance_id"`
	ClaimID      string `parquet:"claim_id"`
	SourceHash   string `parquet:"source_hash"`
	ByteStart    int64  `parquet:"byte_start"`
	ByteEnd      int64  `parquet:"byte_end"`
}

// Span is one row of evidence/spans.parquet.
type Span struct {
	SpanID     string `parquet:"span_id"`
	SourceHash string `parquet:"source_hash"`
	ByteStart  int64  `parquet:"byte_start"`
	ByteEnd    int64  `parquet:"byte_end"`
	Text       string `parquet:"text"`
}

// Locator is one row of ext/locators.parquet (extension "locators@1").
// Join key: EvidenceAddr, a hash of source_hash + byte range that survives
// shard recompilation because it depends only on content bytes.
type Locator struct {
	EvidenceAddr    string `parquet:"evidence_addr"`
	SpanID          string `parquet:"span_id"`
	SourceHash      string `parquet:"source_hash"`
	Kind            string `parquet:"kind"`
	PageIndex       *int16 `parquet:"page_index,optional"`
	ParagraphIndex  *int32 `parquet:"paragraph_index,optional"`
	BlockID         string `parquet:"block_id"`
	FilePath        string `parquet:"file_path"`
}

// Reference is one row of ext/references.parquet ("references@1"):
// cross-shard claim references enabling multi-shard composition.
type Reference struct {
	SrcClaimID    string  `parquet:"src_claim_id"`
	RelationType  string  `parquet:"relation_type"` // supports, contradicts, derives_from, supersedes, cites
	DstShardID    string  `parquet:"dst_shard_id"`
	DstObjectType string  `parquet:"dst_object_type"` // claim, entity, shard
	DstObjectID   string  `parquet:"dst_object_id"`
	Confidence    float32 `parquet:"confidence"`
	Note          string  `parquet:"note"`
}

// Lineage is one row of ext/lineage.parquet ("lineage@1"): shard
// versioning and supersession chains.
type Lineage struct {
	ShardID            string `parquet:"shard_id"`
	SupersedesShardID  string `parquet:"supersedes_shard_id"`
	Action             string `parquet:"action"` // supersede, amend, retract
	Timestamp          string `parquet:"timestamp"`
	Note               string `parquet:"note"`
}

// Temporal is one row of ext/temporal.parquet ("temporal@1"): claim
// validity windows for staleness detection.
type Temporal struct {
	ClaimID          string `parquet:"claim_id"`
	ValidFrom        string `parquet:"valid_from"`
	ValidUntil       string `parquet:"valid_until"`
	TemporalContext  string `parquet:"temporal_context"`
}

// Coords is one row of ext/coords.parquet ("coords@1"): the deprecated
// AXM-KG semantic coordinate space, MM-TT-SS-XXXX.
type Coords struct {
	EntityID string `parquet:"entity_id"`
	Major    string `parquet:"major"`
	Type     string `parquet:"type"`
	Subtype  string `parquet:"subtype"`
	Instance string `parquet:"instance"`
}

// ValidObjectTypes is the closed enum claims.object_type must belong to (I2, B4).
var ValidObjectTypes = map[string]bool{
	"entity":           true,
	"literal:string":   true,
	"literal:integer":  true,
	"literal:decimal":  true,
	"literal:boolean":  true,
}

// ValidTiers is the closed enum claims.tier must belong to (I2, B4).
var ValidTiers = map[int8]bool{0: true, 1: true, 2: true, 3: true, 4: true}

// ExtensionRegistry documents every recognized ext/ table: its file name,
// sort key, and the stable join it offers. An unknown extension name is
// not itself a verification failure (§9 "Plugin-like extensions") — this
// registry only backs tooling that knows how to read the named tables.
var ExtensionRegistry = map[string]struct {
	File        string
	SortKey     string
	Description string
}{
	"locators@1":   {File: "locators.parquet", SortKey: "evidence_addr", Description: "structural position of evidence in source documents"},
	"references@1": {File: "references.parquet", SortKey: "src_claim_id", Description: "cross-shard claim references for composition"},
	"lineage@1":    {File: "lineage.parquet", SortKey: "shard_id", Description: "shard versioning and supersession chains"},
	"temporal@1":   {File: "temporal.parquet", SortKey: "claim_id", Description: "claim validity windows"},
	"coords@1":     {File: "coords.parquet", SortKey: "entity_id", Description: "semantic coordinate space (MM-TT-SS-XXXX)"},
}
