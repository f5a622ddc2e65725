package models

// Source идентифицирует внешнее приложение-поставщика, каталог которого мы опрашиваем.
type Source string

const (
	SourceBenSoliman   Source = "ben_soliman"
	SourceTagerElsaada Source = "tager_elsaada"
	SourceElRabie      Source = "el_rabie"
	SourceGomlaShoaib  Source = "gomla_shoaib"
)

// KnownSources returns the sources in their display order.
func KnownSources() []Source {
	return []Source{SourceBenSoliman, SourceTagerElsaada, SourceElRabie, SourceGomlaShoaib}
}

func (s Source) Valid() bool {
	switch s {
	case SourceBenSoliman, SourceTagerElsaada, SourceElRabie, SourceGomlaShoaib:
		return true
	}
	return false
}

func (s Source) String() string {
	return string(s)
}
