package lora

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"personaapi/models"
	"personaapi/services"

	"github.com/disintegration/imaging"
)

const jpegQuality = 95

// Preparer packages validated reference images plus caption files into the
// single archive the remote trainer consumes. Filenames follow the
// image_NNN.jpg / image_NNN.txt pairing convention the trainer expects.
type Preparer struct {
	AWS      services.AWSServiceProvider
	URLCache services.URLCacheServiceProvider
	Captions services.CaptionServiceProvider
	Bucket   string
}

func NewPreparer(aws services.AWSServiceProvider, urlCache services.URLCacheServiceProvider, captions services.CaptionServiceProvider) *Preparer {
	return &Preparer{
		AWS:      aws,
		URLCache: urlCache,
		Captions: captions,
		Bucket:   services.GetEnv("R2_BUCKET_NAME", "persona-media"),
	}
}

// Prepare downloads, resizes and captions each included image and returns a
// fetchable URL pointing at the uploaded archive. A single bad image is
// skipped, the batch only fails when fewer than the training minimum survive.
func (p *Preparer) Prepare(ctx context.Context, job *models.TrainingJob, images []models.ReferenceImage) (string, error) {
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)

	processed := 0
	for _, img := range images {
		if !img.IsValid || !img.IsIncluded {
			continue
		}
		name := fmt.Sprintf("image_%03d", processed+1)
		if err := p.addImage(ctx, archive, job, &img, name); err != nil {
			fmt.Printf("[Job: %v] Skipping image %v: %v\n", job.ID, img.ID, err)
			continue
		}
		processed++
	}

	if err := archive.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize training archive: %v", err)
	}
	if processed < MinTrainingImages {
		return "", fmt.Errorf("only %d of %d images survived preparation, need at least %d", processed, len(images), MinTrainingImages)
	}

	key := fmt.Sprintf("training/%d/dataset.zip", job.ID)
	archiveURL, err := p.AWS.UploadBytes(ctx, p.Bucket, key, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to upload training archive: %v", err)
	}
	fmt.Printf("[Job: %v] Prepared training archive with %d images\n", job.ID, processed)
	return archiveURL, nil
}

func (p *Preparer) addImage(ctx context.Context, archive *zip.Writer, job *models.TrainingJob, img *models.ReferenceImage, name string) error {
	sourceURL := img.SourceURL
	if img.ObjectKey != nil && *img.ObjectKey != "" {
		// directly uploaded images carry a bucket key, the stored URL may
		// have expired long before training starts
		resolved, err := p.URLCache.GetReadURL(ctx, *img.ObjectKey)
		if err != nil {
			return fmt.Errorf("presign failed for %s: %v", *img.ObjectKey, err)
		}
		sourceURL = resolved
	}
	content, err := services.ReadFileFromUrl(sourceURL)
	if err != nil {
		return fmt.Errorf("download failed: %v", err)
	}

	decoded, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode failed: %v", err)
	}

	resized := resizeForTraining(decoded, job.Resolution)
	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("encode failed: %v", err)
	}

	imageEntry, err := archive.Create(name + ".jpg")
	if err != nil {
		return err
	}
	if _, err := imageEntry.Write(jpegBuf.Bytes()); err != nil {
		return err
	}

	captionEntry, err := archive.Create(name + ".txt")
	if err != nil {
		return err
	}
	caption := p.captionFor(ctx, job, img, jpegBuf.Bytes())
	if _, err := captionEntry.Write([]byte(caption)); err != nil {
		return err
	}
	return nil
}

// captionFor prefers the user caption, then auto-captioning, then the bare
// trigger token. Captioning failures never abort the image.
func (p *Preparer) captionFor(ctx context.Context, job *models.TrainingJob, img *models.ReferenceImage, jpegContent []byte) string {
	if img.Caption != nil && *img.Caption != "" {
		return fmt.Sprintf("%s, %s", job.TriggerToken, *img.Caption)
	}
	if p.Captions != nil {
		tempPath, err := services.CreateTempFile(jpegContent, "caption.jpg")
		if err == nil {
			defer os.Remove(tempPath)
			caption, err := p.Captions.Caption(ctx, tempPath)
			if err == nil {
				return fmt.Sprintf("%s, %s", job.TriggerToken, caption)
			}
			fmt.Printf("[Job: %v] Auto-caption failed for image %v: %v\n", job.ID, img.ID, err)
		}
	}
	return job.TriggerToken
}

// resizeForTraining scales so the longer edge matches the target resolution
// and rounds both dimensions down to a multiple of 8, a constraint of the
// downstream trainer.
func resizeForTraining(img image.Image, target int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var newWidth, newHeight int
	if width >= height {
		newWidth = target
		newHeight = height * target / width
	} else {
		newHeight = target
		newWidth = width * target / height
	}
	newWidth -= newWidth % 8
	newHeight -= newHeight % 8
	if newWidth < 8 {
		newWidth = 8
	}
	if newHeight < 8 {
		newHeight = 8
	}
	return imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)
}
