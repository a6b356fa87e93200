// Package lensquery embeds the image similarity engine as a library.
//
// The client runs the full pipeline in process: SQLite for metadata and
// signal records, a local blob directory for originals, and an in-memory
// cache for query embeddings. No server is needed.
//
//	client, err := lensquery.New(
//		lensquery.WithDataDir("./data"),
//		lensquery.WithEmbedding("http://localhost:8000/v1", "", "clip-ViT-B-32"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.Images().Upload(ctx, raw, lensquery.Meta{Title: "sunset"})
//	hits, err := client.Search(raw).TopK(5).Do(ctx)
//
// Without WithEmbedding the client still works: uploads and searches fall
// back to perceptual hashes and color histograms, and embeddings can be
// backfilled later with Reindex().Embeddings once a provider is configured.
package lensquery
