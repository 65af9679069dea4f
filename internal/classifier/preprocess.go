package classifier

import (
	"fmt"
	"image"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// preprocess decodes an uploaded image, resizes it to size x size and returns
// an NCHW float32 tensor with channel values scaled to [0,1]. This mirrors the
// transform the model was trained with: resize plus to-tensor, no
// normalization.
func preprocess(r io.Reader, size int) ([]float32, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(resized, resized.Bounds(), src, src.Bounds(), draw.Src, nil)

	tensor := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			offset := resized.PixOffset(x, y)
			i := y*size + x
			tensor[i] = float32(resized.Pix[offset]) / 255.0
			tensor[plane+i] = float32(resized.Pix[offset+1]) / 255.0
			tensor[2*plane+i] = float32(resized.Pix[offset+2]) / 255.0
		}
	}
	return tensor, nil
}
