package models

// FileCandidate is a local file selected for upload.
type FileCandidate struct {
	AbsolutePath string
	RelativePath string
	SizeBytes    int64
	ContentType  string
}

// BuildOutputSource records which discovery step selected the output directory.
type BuildOutputSource string

const (
	SourceExplicit     BuildOutputSource = "explicit"
	SourceConventional BuildOutputSource = "conventional"
	SourceMonorepo     BuildOutputSource = "monorepo"
	SourceStaticSite   BuildOutputSource = "static_site"
	SourceManual       BuildOutputSource = "manual"
)

// BuildOutput is the result of output discovery. Cancelled means the user declined
// to pick a directory; it is not an error.
type BuildOutput struct {
	RootPath  string
	Source    BuildOutputSource
	Cancelled bool
}
