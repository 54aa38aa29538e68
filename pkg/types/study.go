// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// StudyCandidate identifies one discovered article before any processing.
// Candidates are created by the find stage (or loaded from a manifest) and
// are immutable afterwards.
type StudyCandidate struct {
	// PMID is the PubMed identifier, if known.
	PMID string `json:"pmid,omitempty" yaml:"pmid,omitempty"`

	// PMCID is the PubMed Central identifier, if known.
	PMCID string `json:"pmcid,omitempty" yaml:"pmcid,omitempty"`

	// DOI is the digital object identifier, if known.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// Title is the article title as reported by discovery.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Journal is the publication venue.
	Journal string `json:"journal,omitempty" yaml:"journal,omitempty"`

	// Year is the publication year.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Source identifies which discovery backend produced the candidate.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// HashID returns the stable composite key "pmid|pmcid|doi" used to track a
// candidate across runs. At least one identifier field must be set for the
// key to be meaningful.
func (c StudyCandidate) HashID() string {
	return c.PMID + "|" + c.PMCID + "|" + strings.ToLower(c.DOI)
}

// HasIdentifier reports whether any of the identifier fields is set.
func (c StudyCandidate) HasIdentifier() bool {
	return c.PMID != "" || c.PMCID != "" || c.DOI != ""
}

// RawDocument is the downloaded full text for one candidate.
type RawDocument struct {
	Candidate StudyCandidate `json:"candidate" yaml:"candidate"`

	// SourceName identifies the download backend that produced the document.
	SourceName string `json:"source_name" yaml:"source_name"`

	// ContentType is the media type of Body (e.g. "application/xml").
	ContentType string `json:"content_type" yaml:"content_type"`

	// Body is the raw document content.
	Body []byte `json:"body" yaml:"body"`
}

// ExtractedTable is one results table pulled out of a document.
type ExtractedTable struct {
	// TableID is the label from the source document (e.g. "Table 2").
	TableID string `json:"table_id" yaml:"table_id"`

	// TableNumber is the positional index of the table in the document.
	TableNumber int `json:"table_number" yaml:"table_number"`

	// Caption is the table caption text.
	Caption string `json:"caption,omitempty" yaml:"caption,omitempty"`

	// Rows holds the table cells, row-major.
	Rows [][]string `json:"rows" yaml:"rows"`
}

// TableSet is the extraction output for one candidate.
type TableSet struct {
	Candidate StudyCandidate   `json:"candidate" yaml:"candidate"`
	Tables    []ExtractedTable `json:"tables" yaml:"tables"`
}

// Point is a single stereotactic coordinate reported by an analysis.
type Point struct {
	// Coordinates holds exactly three values (x, y, z).
	Coordinates []float64 `json:"coordinates" yaml:"coordinates"`

	// Statistic is the reported statistic value at the point, if any.
	Statistic float64 `json:"statistic,omitempty" yaml:"statistic,omitempty"`

	// Region is the anatomical label from the table row, if any.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// Analysis is one contrast or condition parsed from a results table.
type Analysis struct {
	Name    string  `json:"name" yaml:"name"`
	TableID string  `json:"table_id" yaml:"table_id"`
	Space   string  `json:"space,omitempty" yaml:"space,omitempty"`
	Points  []Point `json:"points" yaml:"points"`
}

// AnalysisSet is the analysis-construction output for one candidate.
type AnalysisSet struct {
	Candidate StudyCandidate `json:"candidate" yaml:"candidate"`
	Analyses  []Analysis     `json:"analyses" yaml:"analyses"`
}

// StudyUpload pairs a candidate with its constructed analyses for upload
// to neurostore.
type StudyUpload struct {
	Candidate StudyCandidate `json:"candidate" yaml:"candidate"`
	Analyses  []Analysis     `json:"analyses" yaml:"analyses"`
}

// NeurostoreStudyID is a base-study identifier assigned by neurostore.
type NeurostoreStudyID string

// PondID is a study identifier in the ns-pond identifier space.
type PondID string

// UploadedStudy records the neurostore id assigned to a candidate.
type UploadedStudy struct {
	Candidate StudyCandidate    `json:"candidate" yaml:"candidate"`
	StudyID   NeurostoreStudyID `json:"study_id" yaml:"study_id"`
}
