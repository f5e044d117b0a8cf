package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxFileSize is the largest document written as a single file. The
	// contents API refuses files over 1 MB; the gap absorbs encoding
	// differences between the estimate and the stored bytes.
	MaxFileSize = 800 * 1024

	chunkSafetyMargin     = 1.2
	defaultSampleItemSize = 1000
)

var splitFilePattern = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// Chunk is one file of a chunk set.
type Chunk struct {
	Path string
	Doc  *Collection
}

// EstimateSize returns the byte length of v's canonical encoding.
func EstimateSize(v any) (int, error) {
	encoded, err := Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(encoded), nil
}

// NeedsChunking reports whether v is larger than MaxFileSize.
func NeedsChunking(v any) (bool, error) {
	size, err := EstimateSize(v)
	if err != nil {
		return false, err
	}
	return size > MaxFileSize, nil
}

// ItemsPerChunk sizes chunk slices from the first record of items.
func ItemsPerChunk(items []Entry) (int, error) {
	sample := defaultSampleItemSize
	if len(items) > 0 {
		encoded, err := json.Marshal(items[0])
		if err != nil {
			return 0, fmt.Errorf("measure sample item: %w", err)
		}
		sample = len(encoded)
	}
	perChunk := int(math.Floor(float64(MaxFileSize) / (float64(sample) * chunkSafetyMargin)))
	if perChunk < 1 {
		perChunk = 1
	}
	return perChunk, nil
}

// SplitIntoChunks partitions the records of doc into consecutive slices,
// one chunk file per slice, named after basePath. An empty collection still
// produces a single chunk so readers always find at least one file.
func SplitIntoChunks(doc *Collection, basePath string) ([]Chunk, error) {
	perChunk, err := ItemsPerChunk(doc.Items)
	if err != nil {
		return nil, err
	}
	total := (len(doc.Items) + perChunk - 1) / perChunk
	if total == 0 {
		total = 1
	}

	chunks := make([]Chunk, 0, total)
	for index := 0; index < total; index++ {
		start := index * perChunk
		end := start + perChunk
		if end > len(doc.Items) {
			end = len(doc.Items)
		}
		slice := make([]Entry, end-start)
		copy(slice, doc.Items[start:end])

		meta := make(map[string]json.RawMessage, len(doc.Meta)+2)
		for name, value := range doc.Meta {
			meta[name] = value
		}
		meta[fieldChunkIndex] = json.RawMessage(strconv.Itoa(index))
		meta[fieldTotalChunks] = json.RawMessage(strconv.Itoa(total))

		chunks = append(chunks, Chunk{
			Path: ChunkPath(basePath, index),
			Doc:  &Collection{Key: doc.Key, Items: slice, Meta: meta},
		})
	}
	return chunks, nil
}

// MergeChunks reassembles a chunk set in ascending index order. The index
// comes from the filename suffix, falling back to the chunkIndex field for
// paths that do not follow the grammar. Zero chunks merge into an empty
// collection.
func MergeChunks(chunks []Chunk) (*Collection, error) {
	switch len(chunks) {
	case 0:
		return &Collection{Key: DefaultItemsKey, Items: []Entry{}, Meta: map[string]json.RawMessage{}}, nil
	case 1:
		if chunks[0].Doc == nil {
			return nil, fmt.Errorf("chunk %s has no document", chunks[0].Path)
		}
		return chunks[0].Doc.withoutChunkMeta(), nil
	}

	type indexed struct {
		index int
		chunk Chunk
	}
	ordered := make([]indexed, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Doc == nil {
			return nil, fmt.Errorf("chunk %s has no document", chunk.Path)
		}
		index, ok := chunkIndexOf(chunk)
		if !ok {
			return nil, fmt.Errorf("chunk %s has no index", chunk.Path)
		}
		ordered = append(ordered, indexed{index: index, chunk: chunk})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })

	merged := ordered[0].chunk.Doc.withoutChunkMeta()
	items := make([]Entry, 0, len(merged.Items))
	for _, item := range ordered {
		if item.chunk.Doc.Key != merged.Key {
			return nil, fmt.Errorf("chunk %s stores records under %q, expected %q", item.chunk.Path, item.chunk.Doc.Key, merged.Key)
		}
		items = append(items, item.chunk.Doc.Items...)
	}
	merged.Items = items
	return merged, nil
}

func chunkIndexOf(chunk Chunk) (int, bool) {
	if _, index, ok := ParseSplitFileName(chunk.Path); ok {
		return index, true
	}
	return chunk.Doc.metaInt(fieldChunkIndex)
}

// ChunkPath names chunk index of basePath: "dir/name.json" becomes
// "dir/name.<index>.json".
func ChunkPath(basePath string, index int) string {
	dir, file := path.Split(basePath)
	name := strings.TrimSuffix(file, ".json")
	return dir + name + "." + strconv.Itoa(index) + ".json"
}

// ParseSplitFileName recognises "<base>.<digits>.json" and returns the
// canonical "<base>.json" path and the chunk index.
func ParseSplitFileName(name string) (string, int, bool) {
	match := splitFilePattern.FindStringSubmatch(name)
	if match == nil {
		return "", 0, false
	}
	index, err := strconv.Atoi(match[2])
	if err != nil {
		return "", 0, false
	}
	return match[1] + ".json", index, true
}

// IsSplitFile reports whether name is a chunk filename.
func IsSplitFile(name string) bool {
	_, _, ok := ParseSplitFileName(name)
	return ok
}

// BasePathFromSplit maps a chunk filename to its canonical path. Names
// that are not chunk files are returned unchanged.
func BasePathFromSplit(name string) string {
	if base, _, ok := ParseSplitFileName(name); ok {
		return base
	}
	return name
}

// WritePlan is the set of files needed to store a document.
type WritePlan struct {
	Files   []Chunk
	Opaque  json.RawMessage
	Chunked bool
	// Oversized is set for documents above MaxFileSize that cannot be
	// chunked because they have no items array. They are still written
	// as one file and the host may reject them.
	Oversized bool
	Size      int
}

// PlanWrite decides how raw should be laid out under basePath. Collection
// documents (an array under key) above the ceiling are split; any other
// document is written whole.
func PlanWrite(raw json.RawMessage, basePath, key string) (WritePlan, error) {
	coll, err := DecodeCollection(raw, key)
	if err != nil {
		size, sizeErr := EstimateSize(raw)
		if sizeErr != nil {
			return WritePlan{}, sizeErr
		}
		return WritePlan{Opaque: raw, Oversized: size > MaxFileSize, Size: size}, nil
	}
	return PlanCollection(coll, basePath)
}

// PlanCollection is PlanWrite for an already decoded collection.
func PlanCollection(coll *Collection, basePath string) (WritePlan, error) {
	size, err := EstimateSize(coll)
	if err != nil {
		return WritePlan{}, err
	}
	if size <= MaxFileSize {
		return WritePlan{Files: []Chunk{{Path: basePath, Doc: coll}}, Size: size}, nil
	}
	chunks, err := SplitIntoChunks(coll, basePath)
	if err != nil {
		return WritePlan{}, err
	}
	return WritePlan{Files: chunks, Chunked: true, Size: size}, nil
}
