package wrapper

import "github.com/drag0sd0g/ezdl-agents/internal/message"

const (
	SearchAskType        = "wrapper.search"
	SearchResultTellType = "wrapper.result"
)

type Document struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// SearchAsk queries one digital library. MaxResults <= 0 means the source's
// own limit.
type SearchAsk struct {
	message.Ask
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (SearchAsk) ContentType() string { return SearchAskType }

// SearchResultTell carries the hits of one source. Busy is set when the source
// was at capacity and the query was not run.
type SearchResultTell struct {
	message.Tell
	Source    string     `json:"source"`
	Documents []Document `json:"documents"`
	Busy      bool       `json:"busy,omitempty"`
}

func (SearchResultTell) ContentType() string { return SearchResultTellType }

func RegisterContents(codec *message.Codec) {
	codec.Register(SearchAskType, func() message.Content { return &SearchAsk{} })
	codec.Register(SearchResultTellType, func() message.Content { return &SearchResultTell{} })
}
