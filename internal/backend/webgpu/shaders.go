// Embedded WGSL compute shaders for the device kernels.

package webgpu

// Stencil workgroup dimensions. 32×4 keeps a full row segment per warp and
// matches the dispatch arithmetic in backend.go.
const (
	blockDimX = 32
	blockDimY = 4
)

// combineWorkgroupSize is the thread count of the single-workgroup pass
// that folds the per-workgroup partials into the accumulator scalar.
const combineWorkgroupSize = 256

// initShader writes the fixed Dirichlet profile sin(2π·iy/(ny-1)) into
// columns 0 and nx-1 of both grid buffers, one thread per row.
const initShader = `
@group(0) @binding(0) var<storage, read_write> a: array<f32>;
@group(0) @binding(1) var<storage, read_write> a_new: array<f32>;

struct Params {
    nx: u32,
    ny: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(128)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let iy = global_id.x;
    if (iy >= params.ny) {
        return;
    }
    let pi = 3.14159265358979;
    let y0 = sin(2.0 * pi * f32(iy) / f32(params.ny - 1u));
    a[iy * params.nx] = y0;
    a[iy * params.nx + params.nx - 1u] = y0;
    a_new[iy * params.nx] = y0;
    a_new[iy * params.nx + params.nx - 1u] = y0;
}
`

// stencilShader performs one Jacobi sweep fused with the first reduction
// level. Every interior cell writes the 4-neighbor average into a_new and
// contributes its squared residual to a shared-memory tree reduction; the
// first thread of each workgroup writes the workgroup's partial sum.
//
// The first and last interior rows additionally replicate their new value
// into the opposite ghost row (iy_end and iy_start-1): the vertical
// boundary wraps around while the horizontal boundary stays fixed.
const stencilShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read_write> a_new: array<f32>;
@group(0) @binding(2) var<storage, read_write> partials: array<f32>;

struct Params {
    nx: u32,
    iy_start: u32,
    iy_end: u32,
    _pad: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

var<workgroup> shared_sum: array<f32, 128>;

@compute @workgroup_size(32, 4)
fn main(
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(local_invocation_index) local_idx: u32,
    @builtin(workgroup_id) workgroup_id: vec3<u32>,
    @builtin(num_workgroups) num_workgroups: vec3<u32>
) {
    let nx = params.nx;
    let ix = global_id.x;
    let iy = global_id.y + 1u;
    var local_sum: f32 = 0.0;

    if (iy < params.iy_end && ix >= 1u && ix < nx - 1u) {
        let new_val = 0.25 * (a[iy * nx + ix + 1u] + a[iy * nx + ix - 1u] +
                              a[(iy + 1u) * nx + ix] + a[(iy - 1u) * nx + ix]);
        a_new[iy * nx + ix] = new_val;

        if (iy == params.iy_start) {
            a_new[params.iy_end * nx + ix] = new_val;
        }
        if (iy == params.iy_end - 1u) {
            a_new[(params.iy_start - 1u) * nx + ix] = new_val;
        }

        let residue = new_val - a[iy * nx + ix];
        local_sum = residue * residue;
    }

    shared_sum[local_idx] = local_sum;
    workgroupBarrier();

    for (var s: u32 = 64u; s > 0u; s = s >> 1u) {
        if (local_idx < s) {
            shared_sum[local_idx] = shared_sum[local_idx] + shared_sum[local_idx + s];
        }
        workgroupBarrier();
    }

    if (local_idx == 0u) {
        partials[workgroup_id.y * num_workgroups.x + workgroup_id.x] = shared_sum[0];
    }
}
`

// combineShader is the second reduction level: a single 256-thread
// workgroup strides over the partials array, tree-reduces in shared
// memory, and adds the total into the accumulator scalar. WGSL has no
// float atomicAdd, so the inter-workgroup combine runs as this separate
// pass in the same command buffer instead.
const combineShader = `
@group(0) @binding(0) var<storage, read> partials: array<f32>;
@group(0) @binding(1) var<storage, read_write> norm: array<f32>;

struct Params {
    count: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> shared_sum: array<f32, 256>;

@compute @workgroup_size(256)
fn main(@builtin(local_invocation_id) local_id: vec3<u32>) {
    let tid = local_id.x;
    var sum: f32 = 0.0;
    var i = tid;
    loop {
        if (i >= params.count) {
            break;
        }
        sum = sum + partials[i];
        i = i + 256u;
    }
    shared_sum[tid] = sum;
    workgroupBarrier();

    for (var s: u32 = 128u; s > 0u; s = s >> 1u) {
        if (tid < s) {
            shared_sum[tid] = shared_sum[tid] + shared_sum[tid + s];
        }
        workgroupBarrier();
    }

    if (tid == 0u) {
        norm[0] = norm[0] + shared_sum[0];
    }
}
`
