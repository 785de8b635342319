package util_test

import (
	"crypto/rand"
	mathrand "math/rand"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gmeasure"

	"github.com/kralicky/tfpool/pkg/util"
)

var _ = Describe("StreamBuffer", func() {
	When("writing to the buffer", func() {
		It("should succeed and not block", func() {
			buf := util.NewStreamBuffer()
			n, err := buf.Write([]byte("hello"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(5))

			n, err = buf.Write([]byte("world"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(5))
		})
		It("should not expose written data until it is read", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello"))
			Expect(buf.Tell()).To(Equal(0))
			Expect(buf.Len()).To(Equal(5))
		})
		It("should copy the written data", func() {
			buf := util.NewStreamBuffer()
			data := []byte("hello")
			buf.Write(data)
			data[0] = 'j'
			Expect(string(buf.ReadAll())).To(Equal("hello"))
		})
		It("should read data in the same order it was written", func() {
			buf := util.NewStreamBuffer()
			for i := 0; i < 256; i++ {
				n, err := buf.Write([]byte{byte(i)})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(1))
			}
			data := buf.Read(-1)
			Expect(data).To(HaveLen(256))
			for i := 0; i < 256; i++ {
				Expect(data[i]).To(Equal(byte(i)))
			}
		})
	})

	When("reading from the buffer", func() {
		It("should only return data that has not been read yet", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello "))
			Expect(string(buf.Read(-1))).To(Equal("hello "))
			Expect(buf.Read(-1)).To(BeEmpty())

			buf.Write([]byte("world"))
			Expect(string(buf.Read(-1))).To(Equal("world"))
			Expect(buf.Tell()).To(Equal(11))
		})
		It("should return at most size bytes", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello world"))
			Expect(string(buf.Read(5))).To(Equal("hello"))
			Expect(buf.Tell()).To(Equal(5))
			Expect(string(buf.Read(100))).To(Equal(" world"))
			Expect(buf.Tell()).To(Equal(11))
		})
		It("should return an empty slice for a zero size read", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello"))
			Expect(buf.Read(0)).To(BeEmpty())
			Expect(buf.Tell()).To(Equal(0))
		})
		It("should not move the cursor when merging new data", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello"))
			Expect(string(buf.Read(2))).To(Equal("he"))
			buf.Write([]byte(" world"))
			Expect(string(buf.Read(-1))).To(Equal("llo world"))
		})
	})

	When("reading the whole buffer", func() {
		It("should leave the cursor unchanged", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello"))
			buf.Read(3)
			buf.Write([]byte(" world"))

			before := buf.Tell()
			Expect(string(buf.ReadAll())).To(Equal("hello world"))
			Expect(buf.Tell()).To(Equal(before))
			Expect(string(buf.Read(-1))).To(Equal("lo world"))
		})
	})

	When("seeking", func() {
		It("should report the new position", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello world"))
			for _, p := range []int{0, 3, 11, 6} {
				Expect(buf.Seek(p)).To(Succeed())
				Expect(buf.Tell()).To(Equal(p))
			}
			Expect(string(buf.Read(-1))).To(Equal("world"))
		})
		It("should include pending data in the valid range", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello"))
			Expect(buf.Seek(5)).To(Succeed())
		})
		It("should reject positions outside of the buffer", func() {
			buf := util.NewStreamBuffer()
			buf.Write([]byte("hello"))
			Expect(buf.Seek(-1)).To(MatchError(util.ErrSeekOutOfRange))
			Expect(buf.Seek(6)).To(MatchError(util.ErrSeekOutOfRange))
			Expect(buf.Tell()).To(Equal(0))
		})
	})

	Specify("concurrent readers should see every byte exactly once", func() {
		buf := util.NewStreamBuffer()
		bench := gmeasure.NewExperiment("benchmark")
		AddReportEntry(bench.Name, bench)

		totalSize := 4 * 1024 * 1024
		numReaders := 8
		done := make(chan struct{})
		results := make([][]byte, numReaders)

		var wg sync.WaitGroup
		wg.Add(numReaders)
		for i := 0; i < numReaders; i++ {
			i := i
			go func() {
				defer wg.Done()
				for {
					data := buf.Read(mathrand.Intn(4096) + 1)
					results[i] = append(results[i], data...)
					if len(data) == 0 {
						select {
						case <-done:
							if buf.Tell() == totalSize {
								return
							}
						default:
							time.Sleep(time.Microsecond)
						}
					}
				}
			}()
		}

		contents := make([]byte, 0, totalSize)
		start := time.Now()
		for len(contents) < totalSize {
			n := min(mathrand.Intn(8*1024)+1, totalSize-len(contents))
			data := make([]byte, n)
			Expect(rand.Read(data)).To(Equal(n))
			Expect(buf.Write(data)).To(Equal(n))
			contents = append(contents, data...)
		}
		bench.RecordValue("buffer write rate", float64(totalSize)/time.Since(start).Seconds()/1024, gmeasure.Units("KiB/s"))
		close(done)
		wg.Wait()

		var total int
		for _, r := range results {
			total += len(r)
		}
		Expect(total).To(Equal(totalSize))
		Expect(buf.ReadAll()).To(Equal(contents))
	})
})
