package nft

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

const ipfsGateway = "https://ipfs.io/ipfs/"

var imageExtRe = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|webp|avif)(\?.*)?$`)

// gatewayURL rewrites ipfs:// URIs to a public HTTP gateway; anything else
// passes through.
func gatewayURL(uri string) string {
	if strings.HasPrefix(uri, "ipfs://") {
		return ipfsGateway + strings.TrimPrefix(uri, "ipfs://")
	}
	return uri
}

type metadataDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	ImageURL    string `json:"image_url"`
}

// resolve fills item's display fields from its token URI. URIs that already
// look like images short-circuit; otherwise the document is fetched and
// sniffed. On any failure the URI itself becomes the image, which at least
// gives the caller something to render.
func (s *Service) resolve(ctx context.Context, item *NFT) {
	if item.TokenURI == "" {
		return
	}

	url := gatewayURL(item.TokenURI)
	if imageExtRe.MatchString(url) {
		item.ImageURL = url
		return
	}

	doc, contentType, err := s.fetch(ctx, url)
	if err != nil {
		s.logger.V(1).Info("metadata fetch failed", "uri", item.TokenURI, "err", err.Error())
		item.ImageURL = url
		return
	}

	if strings.HasPrefix(contentType, "image/") {
		item.ImageURL = url
		return
	}

	var meta metadataDoc
	if err := json.Unmarshal(doc, &meta); err != nil {
		item.ImageURL = url
		return
	}

	item.Name = meta.Name
	item.Description = meta.Description
	image := meta.Image
	if image == "" {
		image = meta.ImageURL
	}
	if image == "" {
		image = url
	}
	item.ImageURL = gatewayURL(image)
}

func (s *Service) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}
