package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Message attribute names shared by the submission and result channels.
const (
	AttrPackageID        = "PackageID"
	AttrSubmissionSource = "SubmissionSource"
	AttrOutputQueue      = "OutputQueue"
)

// Result types reported by the publication service.
const (
	ResultTypeSuccess = "success"
	ResultTypeError   = "error"
)

const packagePrefix = "etd"

// SubmissionFile is one bitstream the publication service downloads.
type SubmissionFile struct {
	BitstreamName        string `json:"BitstreamName"`
	FileLocation         string `json:"FileLocation"`
	BitstreamDescription string `json:"BitstreamDescription"`
}

// SubmissionBody is the body of an outbound submission message.
type SubmissionBody struct {
	SubmissionSystem string           `json:"SubmissionSystem"`
	CollectionHandle string           `json:"CollectionHandle"`
	MetadataLocation string           `json:"MetadataLocation"`
	Files            []SubmissionFile `json:"Files"`
}

// ResultChecksum wraps a reported bitstream digest.
type ResultChecksum struct {
	Value     string `json:"value"`
	Algorithm string `json:"checkSumAlgorithm,omitempty"`
}

// ResultBitstream is one bitstream echoed back in a result.
type ResultBitstream struct {
	BitstreamName     string         `json:"BitstreamName,omitempty"`
	BitstreamChecksum ResultChecksum `json:"BitstreamChecksum"`
}

// ResultBody is the body of an inbound result message. DSpaceResponse and
// ErrorInfo are kept raw since their shape is owned by the remote side.
type ResultBody struct {
	ResultType         string            `json:"ResultType"`
	ItemHandle         string            `json:"ItemHandle,omitempty"`
	Bitstreams         []ResultBitstream `json:"Bitstreams,omitempty"`
	DSpaceResponse     interface{}       `json:"DSpaceResponse,omitempty"`
	ErrorInfo          interface{}       `json:"ErrorInfo,omitempty"`
	ExceptionTraceback interface{}       `json:"ExceptionTraceback,omitempty"`
}

// PackageID is the composite identifier a thesis is submitted under.
func PackageID(thesisID int64) string {
	return fmt.Sprintf("%s_%d", packagePrefix, thesisID)
}

// ParsePackageID recovers the thesis id from the suffix after the last
// underscore.
func ParsePackageID(packageID string) (int64, error) {
	i := strings.LastIndex(packageID, "_")
	if i < 0 || i == len(packageID)-1 {
		return 0, fmt.Errorf("package id %q has no thesis id suffix", packageID)
	}
	id, err := strconv.ParseInt(packageID[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("package id %q has an invalid thesis id", packageID)
	}
	return id, nil
}
