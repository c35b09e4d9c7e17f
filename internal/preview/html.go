package preview

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>framepack preview</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { background: #1d1f21; color: #c5c8c6; font-family: monospace; margin: 24px; }
        canvas { image-rendering: pixelated; border: 1px solid #444; background: #fff; width: 640px; }
        .status { margin: 8px 0; }
    </style>
</head>
<body>
    <h2>framepack preview</h2>
    <div class="status" id="status">Connecting...</div>
    <canvas id="screen" width="32" height="24"></canvas>
    <div class="status" id="frame-info"></div>

    <script>
    const statusEl = document.getElementById('status');
    const infoEl = document.getElementById('frame-info');
    const canvas = document.getElementById('screen');
    const ctx = canvas.getContext('2d');
    let received = 0;

    // header: frame u32, width u16, height u16 (big-endian), then MSB-first bits
    function drawFrame(buf) {
        const view = new DataView(buf);
        const frame = view.getUint32(0);
        const w = view.getUint16(4);
        const h = view.getUint16(6);
        if (canvas.width !== w || canvas.height !== h) {
            canvas.width = w;
            canvas.height = h;
        }
        const bits = new Uint8Array(buf, 8);
        const img = ctx.createImageData(w, h);
        for (let i = 0; i < w * h; i++) {
            const on = (bits[i >> 3] >> (7 - (i & 7))) & 1;
            const v = on ? 0 : 255;
            img.data[i * 4] = v;
            img.data[i * 4 + 1] = v;
            img.data[i * 4 + 2] = v;
            img.data[i * 4 + 3] = 255;
        }
        ctx.putImageData(img, 0, 0);
        received++;
        infoEl.textContent = 'frame ' + frame + ' (' + w + 'x' + h + '), received ' + received;
    }

    async function start() {
        const pc = new RTCPeerConnection({ iceServers: [] });
        const dc = pc.createDataChannel('frames', { ordered: false, maxRetransmits: 0 });
        dc.binaryType = 'arraybuffer';
        dc.onopen = () => { statusEl.textContent = 'Connected'; };
        dc.onclose = () => { statusEl.textContent = 'Disconnected'; };
        dc.onmessage = (ev) => drawFrame(ev.data);

        const offer = await pc.createOffer();
        await pc.setLocalDescription(offer);
        await new Promise((resolve) => {
            if (pc.iceGatheringState === 'complete') {
                resolve();
                return;
            }
            pc.onicegatheringstatechange = () => {
                if (pc.iceGatheringState === 'complete') resolve();
            };
        });

        const resp = await fetch('/offer', {
            method: 'POST',
            headers: { 'Content-Type': 'application/json' },
            body: JSON.stringify(pc.localDescription),
        });
        if (!resp.ok) {
            statusEl.textContent = 'Offer failed: ' + (await resp.text());
            return;
        }
        await pc.setRemoteDescription(await resp.json());
    }

    start().catch((err) => { statusEl.textContent = 'Error: ' + err; });
    </script>
</body>
</html>
`
