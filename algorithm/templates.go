package algorithm

// Kernel templates. Each is a macro that an instantiation expands once per
// element type, so template source comes first in a unit, then the type
// preamble and functors, then the instantiations. Kernels walk a partition
// plan: one @outer iteration per partition, KpartMax @inner lanes striding
// through it.

const reduceTemplate = `#define kd_identity(x) (x)

#define KD_REDUCE_KERNEL(NAME, T, XF, OP)                                 \
@kernel void NAME(const int_t npart, const int_t *offsets, const T *in,  \
                  T *partials) {                                         \
  for (int_t part = 0; part < npart; ++part; @outer) {                   \
    for (int_t lane = 0; lane < KpartMax; ++lane; @inner) {              \
      const int_t lo = offsets[part];                                    \
      const int_t hi = offsets[part + 1];                                \
      if (lo + lane < hi) {                                              \
        T acc = XF(in[lo + lane]);                                       \
        for (int_t i = lo + lane + KpartMax; i < hi; i += KpartMax) {    \
          acc = OP(acc, XF(in[i]));                                      \
        }                                                                \
        partials[part * KpartMax + lane] = acc;                          \
      }                                                                  \
    }                                                                    \
  }                                                                      \
}

#define KD_REDUCE_FINAL_KERNEL(NAME, T, OP)                               \
@kernel void NAME(const int_t npart, const int_t *offsets, const T init, \
                  const T *partials, T *result) {                        \
  for (int_t b = 0; b < 1; ++b; @outer) {                                \
    for (int_t t = 0; t < 1; ++t; @inner) {                              \
      T acc = init;                                                      \
      for (int_t part = 0; part < npart; ++part) {                       \
        const int_t k = offsets[part + 1] - offsets[part];               \
        const int_t lanes = k < KpartMax ? k : KpartMax;                 \
        for (int_t lane = 0; lane < lanes; ++lane) {                     \
          acc = OP(acc, partials[part * KpartMax + lane]);               \
        }                                                                \
      }                                                                  \
      result[0] = acc;                                                   \
    }                                                                    \
  }                                                                      \
}`

const transformTemplate = `#define KD_TRANSFORM_KERNEL(NAME, T, XF)                                  \
@kernel void NAME(const int_t npart, const int_t *offsets, const T *in,  \
                  T *out) {                                              \
  for (int_t part = 0; part < npart; ++part; @outer) {                   \
    for (int_t lane = 0; lane < KpartMax; ++lane; @inner) {              \
      for (int_t i = offsets[part] + lane; i < offsets[part + 1];        \
           i += KpartMax) {                                              \
        out[i] = XF(in[i]);                                              \
      }                                                                  \
    }                                                                    \
  }                                                                      \
}`

const scanTemplate = `#define KD_SCAN_KERNELS(SCAN, ADD, T, OP)                                 \
@kernel void SCAN(const int_t npart, const int_t *offsets, const T *in,  \
                  T *out, T *totals) {                                   \
  for (int_t part = 0; part < npart; ++part; @outer) {                   \
    for (int_t lane = 0; lane < 1; ++lane; @inner) {                     \
      const int_t lo = offsets[part];                                    \
      T acc = in[lo];                                                    \
      out[lo] = acc;                                                     \
      for (int_t i = lo + 1; i < offsets[part + 1]; ++i) {               \
        acc = OP(acc, in[i]);                                            \
        out[i] = acc;                                                    \
      }                                                                  \
      totals[part] = acc;                                                \
    }                                                                    \
  }                                                                      \
}                                                                        \
@kernel void ADD(const int_t npart, const int_t *offsets,                \
                 const T *carries, T *out) {                             \
  for (int_t part = 1; part < npart; ++part; @outer) {                   \
    for (int_t lane = 0; lane < KpartMax; ++lane; @inner) {              \
      for (int_t i = offsets[part] + lane; i < offsets[part + 1];        \
           i += KpartMax) {                                              \
        out[i] = OP(carries[part], out[i]);                              \
      }                                                                  \
    }                                                                    \
  }                                                                      \
}

#define KD_SHIFT_KERNEL(NAME, T, OP)                                      \
@kernel void NAME(const int_t npart, const int_t *offsets, const T init, \
                  const T *incl, T *out) {                               \
  for (int_t part = 0; part < npart; ++part; @outer) {                   \
    for (int_t lane = 0; lane < KpartMax; ++lane; @inner) {              \
      for (int_t i = offsets[part] + lane; i < offsets[part + 1];        \
           i += KpartMax) {                                              \
        out[i] = (i == 0) ? init : OP(init, incl[i - 1]);                \
      }                                                                  \
    }                                                                    \
  }                                                                      \
}`
